package connector

import "encoding/json"

// encodeNames serializes a list-obj reply body: the method names exported
// at the requested path (spec §4.J "Listing").
func encodeNames(names []string) ([]byte, error) {
	return json.Marshal(names)
}

// DecodeNames is the client-side counterpart, used to parse a list-obj
// reply's body back into method names.
func DecodeNames(body []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, err
	}
	return names, nil
}

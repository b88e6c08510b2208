// Package folders implements the sharded object folder allocator (spec
// §4.C): a directory tree keyed by object id, with an access (hot) bucket
// and zero or more colder generational buckets a background rotation can
// move objects into. The bucket/tier vocabulary is adapted from the
// teacher's S3 storage-tier model (internal/storage/s3/tiers.go) — "access
// bucket" plays the role of TierStandard, each generation plays the role
// of a colder tier with its own promotion/rotation rule, except here tiers
// are local directories, not S3 storage classes.
package folders

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// ConfigFileName is the fixed name of the per-namespace folder config file
// (spec §6: "obj-folders-cfg.json").
const ConfigFileName = "obj-folders-cfg.json"

// Generation describes one cold-storage rotation tier.
type Generation struct {
	PeriodSeconds int64 `json:"period"`
	LastDoneUnix  int64 `json:"lastDone"`
}

// Config is the JSON-persisted sharding/rotation configuration for one
// namespace's object folder tree.
type Config struct {
	NumOfSplits   int          `json:"numOfSplits"`
	CharsInSplit  int          `json:"charsInSplit"`
	Generations   []Generation `json:"generations,omitempty"`
	NonceByteLen  int          `json:"-"` // supplied by the caller, not persisted
}

// Validate checks the sharding-size invariant from spec §6:
// numOfSplits * charsInSplit < floor(4*nonce_bytes/3).
func (c Config) Validate() error {
	if c.NumOfSplits < 0 || c.CharsInSplit < 0 {
		return xerrors.ObjFileParsing(ConfigFileName, "negative shard dimensions")
	}
	limit := (4 * c.NonceByteLen) / 3
	if c.NumOfSplits*c.CharsInSplit >= limit {
		return xerrors.ObjFileParsing(ConfigFileName, fmt.Sprintf(
			"numOfSplits*charsInSplit (%d) must be < floor(4*nonceBytes/3) (%d)",
			c.NumOfSplits*c.CharsInSplit, limit))
	}
	return nil
}

// LoadConfig reads and validates the config file at path.
func LoadConfig(path string, nonceByteLen int) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "read folder config").
			WithPath(path, 0).WithCause(err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, xerrors.ObjFileParsing(path, "invalid folder config json").WithCause(err)
	}
	c.NonceByteLen = nonceByteLen
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save persists the config, atomically (write-temp-then-rename), the same
// idiom the teacher's persistent cache index uses (internal/cache/persistent.go).
func (c Config) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return xerrors.ParsingError("encoding folder config").WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "write folder config").
			WithPath(path, 0).WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeNotFound, "rename folder config").
			WithPath(path, 0).WithCause(err)
	}
	return nil
}

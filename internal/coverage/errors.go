package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyPopulation means a primary or counterpart population had no assets.
	ErrEmptyPopulation = errors.New("empty population")
	// ErrPOVMismatch means a population's asset kind does not match the point of view.
	ErrPOVMismatch = errors.New("asset kind does not match point of view")
	// ErrInvalidAsset means a population holds a duplicate id or an asset that fails validation.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrMalformedInterval rejects raw intervals with end < start, bad ids, or mixed primaries.
	ErrMalformedInterval = errors.New("malformed interval")
	// ErrUnsorted means Combine received intervals not sorted by start.
	ErrUnsorted = errors.New("intervals not sorted by start")
	// ErrNoIntervals is returned by MaxGap for empty input. A fully covered timeline
	// is not an error.
	ErrNoIntervals = errors.New("no intervals")
)

// ConfigError reports an unusable analysis configuration. No partial result
// accompanies it.
type ConfigError struct {
	Population string // "device", "satellite", or the offending setting
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coverage config: %s: %v", e.Population, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PairFailure records an oracle call that failed or timed out. The pair
// contributes no intervals.
type PairFailure struct {
	Primary     int
	Counterpart int
	Err         error
}

func (f PairFailure) Error() string {
	return fmt.Sprintf("pair %d/%d: %v", f.Primary, f.Counterpart, f.Err)
}

func (f PairFailure) Unwrap() error { return f.Err }

func (f PairFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Primary     int    `json:"primary"`
		Counterpart int    `json:"counterpart"`
		Error       string `json:"error"`
	}{f.Primary, f.Counterpart, msg})
}

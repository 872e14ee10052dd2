package etlkit

import (
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/ben-leadtech/etlkit/frame"
)

// UniqueIDColumn is the column every output table must carry. Its values are
// the merge key for update-mode loads.
const UniqueIDColumn = "Unique_ID"

var (
	ErrEmptyInput        = errors.New("etlkit: no input data")
	ErrNilFrame          = errors.New("etlkit: frame is nil")
	ErrMissingUniqueID   = errors.New("etlkit: Unique_ID column missing")
	ErrDuplicateUniqueID = errors.New("etlkit: Unique_ID values are not unique")
)

// Check is the outcome of one validation. Err describes the failure and is
// only read when OK is false.
type Check struct {
	OK  bool
	Err error
}

// Checks is a list of validations run together.
type Checks []Check

func pass() Check          { return Check{OK: true} }
func fail(err error) Check { return Check{Err: err} }

func check(ok bool, err error) Check {
	if ok {
		return pass()
	}
	return fail(err)
}

// RunChecks evaluates every check, logs each failure and returns all
// failures combined. It returns nil when every check passes.
func RunChecks(logger *slog.Logger, checks ...Check) error {
	if logger == nil {
		logger = slog.Default()
	}
	var err error
	for _, c := range checks {
		if c.OK {
			continue
		}
		cerr := c.Err
		if cerr == nil {
			cerr = errors.New("etlkit: check failed")
		}
		logger.Error("check failed", "error", cerr)
		err = multierr.Append(err, cerr)
	}
	return err
}

// CheckInputs validates extracted data: at least one frame, and no frame nil
// or empty.
func CheckInputs(data *Data) Checks {
	if data == nil || data.Len() == 0 {
		return Checks{fail(ErrEmptyInput)}
	}
	var out Checks
	for _, name := range data.names {
		f := data.frames[name]
		switch {
		case f == nil:
			out = append(out, fail(fmt.Errorf("%w: %s", ErrNilFrame, name)))
		case f.Empty():
			out = append(out, fail(fmt.Errorf("%w: %s has no rows", ErrEmptyInput, name)))
		default:
			out = append(out, pass())
		}
	}
	return out
}

// CheckTransformed validates the transformed table: it exists, has a
// Unique_ID column, and the column's values are distinct.
func CheckTransformed(f *frame.Frame) Checks {
	if f == nil {
		return Checks{fail(ErrNilFrame)}
	}
	if !f.HasColumn(UniqueIDColumn) {
		return Checks{fail(ErrMissingUniqueID)}
	}
	unique, dup, err := f.Unique(UniqueIDColumn)
	if err != nil {
		return Checks{fail(err)}
	}
	return Checks{check(unique, fmt.Errorf("%w: %v repeats", ErrDuplicateUniqueID, dup))}
}

// CheckLoad validates a load request: table and dataset are named, then the
// frame checks of CheckTransformed.
func CheckLoad(f *frame.Frame, cfg *Config) Checks {
	if cfg == nil {
		return Checks{fail(ErrNilConfig)}
	}
	out := Checks{
		check(cfg.TableName != "", ErrEmptyTableName),
		check(cfg.DatasetName != "", ErrEmptyDatasetName),
	}
	return append(out, CheckTransformed(f)...)
}

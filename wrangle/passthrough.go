package wrangle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/frame"
)

// Passthrough loads one extracted frame as is, optionally building
// Unique_ID from other columns.
type Passthrough struct {
	// Frame is the extracted frame to pass on, e.g. df_accounts. It may be
	// empty when exactly one frame was extracted.
	Frame string

	// UniqueIDFrom, when set, replaces Unique_ID with the values of these
	// columns joined by "_".
	UniqueIDFrom []string
}

var _ etlkit.Transformer = (*Passthrough)(nil)

func (p *Passthrough) Transform(_ context.Context, data *etlkit.Data) (*frame.Frame, error) {
	name := p.Frame
	if name == "" {
		if data == nil || data.Len() != 1 {
			return nil, errors.New("wrangle: passthrough needs a frame name when more than one frame is extracted")
		}
		name = data.Names()[0]
	}
	if data != nil && !strings.HasPrefix(name, etlkit.FramePrefix) {
		// Accept the job name as well as the frame name.
		if _, ok := data.Frame(name); !ok {
			name = etlkit.FramePrefix + name
		}
	}

	in, err := requireFrame(data, name)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	if len(p.UniqueIDFrom) == 0 {
		return out, nil
	}

	if err := requireColumns(out, name, p.UniqueIDFrom...); err != nil {
		return nil, err
	}
	out.AddColumn(etlkit.UniqueIDColumn, nil)
	parts := make([]string, len(p.UniqueIDFrom))
	for i := range out.Len() {
		for j, c := range p.UniqueIDFrom {
			v, _ := out.Value(i, c)
			parts[j] = frame.FormatValue(v)
		}
		if err := out.Set(i, etlkit.UniqueIDColumn, strings.Join(parts, "_")); err != nil {
			return nil, fmt.Errorf("wrangle: %w", err)
		}
	}
	return out, nil
}

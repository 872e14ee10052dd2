package etlkit

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ben-leadtech/etlkit/frame"
)

// Data is the ordered set of named tables produced by the extract stage.
type Data struct {
	names  []string
	frames map[string]*frame.Frame
}

// NewData returns an empty Data.
func NewData() *Data {
	return &Data{frames: make(map[string]*frame.Frame)}
}

// Add stores f under name. Adding an existing name replaces the frame and
// keeps its position.
func (d *Data) Add(name string, f *frame.Frame) {
	if _, ok := d.frames[name]; !ok {
		d.names = append(d.names, name)
	}
	d.frames[name] = f
}

// Frame returns the frame stored under name.
func (d *Data) Frame(name string) (*frame.Frame, bool) {
	f, ok := d.frames[name]
	return f, ok
}

// Names returns the frame names in insertion order.
func (d *Data) Names() []string { return slices.Clone(d.names) }

// Len returns the number of frames.
func (d *Data) Len() int { return len(d.names) }

// Rows returns the total row count across all frames.
func (d *Data) Rows() int {
	n := 0
	for _, f := range d.frames {
		if f != nil {
			n += f.Len()
		}
	}
	return n
}

// String renders every frame with its first five rows.
func (d *Data) String() string {
	var sb strings.Builder
	for _, name := range d.names {
		f := d.frames[name]
		if f == nil {
			fmt.Fprintf(&sb, "%s: <nil>\n", name)
			continue
		}
		fmt.Fprintf(&sb, "%s: %T (%d rows)\n", name, f, f.Len())
		sb.WriteString(f.String())
	}
	return sb.String()
}

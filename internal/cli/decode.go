package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/ubind/internal/protocol/frame"
	"github.com/danmuck/ubind/internal/protocol/schema"
	"github.com/danmuck/ubind/internal/protocol/tlv"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/spf13/cobra"
)

// FrameRecord is one decoded frame from a capture.
type FrameRecord struct {
	Index    int         `json:"index" yaml:"index"`
	ID       uint64      `json:"id" yaml:"id"`
	Message  string      `json:"message" yaml:"message"`
	Response bool        `json:"response,omitempty" yaml:"response,omitempty"`
	Error    bool        `json:"error,omitempty" yaml:"error,omitempty"`
	Fields   []FieldView `json:"fields,omitempty" yaml:"fields,omitempty"`
	Invalid  string      `json:"invalid,omitempty" yaml:"invalid,omitempty"`
}

type FieldView struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	var maxPayload uint32
	cmd := &cobra.Command{
		Use:   "decode <capture>",
		Short: "Print every message in a captured frame stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			records, err := DecodeStream(f, frame.Limits{MaxPayloadBytes: maxPayload})
			if rerr := render(cmd.OutOrStdout(), rootOpts.Format, records, func() string { return FormatText(records) }); rerr != nil {
				return rerr
			}
			return err
		},
	}
	cmd.Flags().Uint32Var(&maxPayload, "max-payload", frame.DefaultLimits().MaxPayloadBytes, "largest payload accepted per frame")
	return cmd
}

// DecodeStream reads frames until EOF. Frames whose payload fails to decode
// are kept with Invalid set; a broken header stops the scan and is returned
// alongside everything read so far.
func DecodeStream(r io.Reader, limits frame.Limits) ([]FrameRecord, error) {
	var out []FrameRecord
	for i := 1; ; i++ {
		f, err := frame.ReadFrame(r, limits)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("frame %d: %w", i, err)
		}
		rec := FrameRecord{
			Index:    i,
			ID:       f.Header.MessageID,
			Message:  schema.Name(f.Header.MessageType),
			Response: f.Header.IsResponse(),
			Error:    f.Header.IsError(),
		}
		fields, ferr := tlv.DecodeFields(f.Payload)
		for _, fld := range fields {
			rec.Fields = append(rec.Fields, FieldView{
				Name:  schema.FieldName(fld.ID),
				Type:  tlv.TypeName(fld.Type),
				Value: fieldText(fld),
			})
		}
		if ferr != nil {
			rec.Invalid = ferr.Error()
		} else if _, err := wire.DecodeFrame(f); err != nil {
			rec.Invalid = err.Error()
		}
		out = append(out, rec)
	}
}

func fieldText(f tlv.Field) string {
	fs := tlv.Fields{f}
	switch f.Type {
	case tlv.TypeString:
		return strconv.Quote(string(f.Value))
	case tlv.TypeU8:
		if v, err := fs.U8(f.ID); err == nil {
			return strconv.FormatUint(uint64(v), 10)
		}
	case tlv.TypeU32:
		if v, err := fs.U32(f.ID); err == nil {
			return strconv.FormatUint(uint64(v), 10)
		}
	case tlv.TypeU64:
		if v, err := fs.U64(f.ID); err == nil {
			return strconv.FormatUint(v, 10)
		}
	case tlv.TypeF64:
		if v, err := fs.F64(f.ID); err == nil {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	case tlv.TypeValue:
		if v, err := wire.DecodeValue(f.Value); err == nil {
			return v.String()
		}
	case tlv.TypeValues:
		if vs, err := wire.DecodeValues(f.Value); err == nil {
			parts := make([]string, len(vs))
			for i, v := range vs {
				parts[i] = v.String()
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
	}
	return "0x" + hex.EncodeToString(f.Value)
}

// FormatText renders one line per frame.
func FormatText(records []FrameRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "#%d %s id=%d", r.Index, r.Message, r.ID)
		if r.Response {
			b.WriteString(" response")
		}
		if r.Error {
			b.WriteString(" error")
		}
		for _, f := range r.Fields {
			fmt.Fprintf(&b, " %s=%s", f.Name, f.Value)
		}
		if r.Invalid != "" {
			b.WriteString(" invalid: ")
			b.WriteString(r.Invalid)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

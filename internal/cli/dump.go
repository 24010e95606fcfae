package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/provtrace/internal/trace"
)

// hexSpan is the longest hex rendering printed in full; longer values keep
// half of it at each end.
const hexSpan = 20

// DefaultDumpPrefixes are the key families dumped when no --prefix is given.
var DefaultDumpPrefixes = []string{"pid.", "prv."}

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Prefixes []string
}

// DumpRecord is one record in JSON output.
type DumpRecord struct {
	Key       string `json:"key"`
	KeyLen    int    `json:"key_len"`
	Value     string `json:"value,omitempty"`
	ValueHex  string `json:"value_hex,omitempty"`
	ValueLen  int    `json:"value_len"`
	Printable bool   `json:"printable"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <trace>",
		Short: "Print raw trace records",
		Long: `Print the raw key/value records of a trace store, one selection prefix
after another, each in key order.

Printable values are shown verbatim. Binary values are shown as hex
(abbreviated beyond 20 hex digits) followed by an escaped rendering in
which bytes outside printable ASCII appear as \<decimal>.

Examples:
  provtrace dump run.log
  provtrace dump run.log --prefix prv.iopid.100.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Prefixes, "prefix", nil, "key prefix to dump (repeatable)")

	return cmd
}

func runDump(opts *DumpOptions, path string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)

	st, err := trace.Open(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("trace store unavailable: %s", path), err)
	}
	defer st.Close()

	prefixes := opts.Prefixes
	if len(prefixes) == 0 {
		prefixes = DefaultDumpPrefixes
	}

	var records []DumpRecord
	for _, p := range prefixes {
		recs, err := trace.Collect(st.Scan(trace.Prefix(p)))
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeScanFailed, fmt.Sprintf("reading trace %s", path), err)
		}
		for _, r := range recs {
			records = append(records, newDumpRecord(r))
		}
	}

	if formatter.Format == "json" {
		if records == nil {
			records = []DumpRecord{}
		}
		return formatter.Success(records)
	}

	for _, r := range records {
		writeDumpLine(formatter.Writer, r)
	}
	return nil
}

func newDumpRecord(r trace.Record) DumpRecord {
	d := DumpRecord{
		Key:       r.Key,
		KeyLen:    len(r.Key),
		ValueLen:  len(r.Value),
		Printable: isPrintable(r.Value),
	}
	if d.Printable {
		d.Value = r.Value
	} else {
		d.Value = escapeBytes(r.Value)
		d.ValueHex = hex.EncodeToString([]byte(r.Value))
	}
	return d
}

// writeDumpLine renders one record:
//
//	[len] 'key' -> [len] 'value'
//	[len]x 'key' -> [len] '0x<hex>' <escaped>
//	[len]xx 'key' -> [len] '0x<head>...<tail>' <escaped>
func writeDumpLine(w io.Writer, r DumpRecord) {
	if r.Printable {
		fmt.Fprintf(w, "[%d] '%s' -> [%d] '%s'\n", r.KeyLen, r.Key, r.ValueLen, r.Value)
		return
	}

	marker, hexv := "x", r.ValueHex
	if len(hexv) > hexSpan {
		marker = "xx"
		hexv = hexv[:hexSpan/2] + "..." + hexv[len(hexv)-hexSpan/2:]
	}
	fmt.Fprintf(w, "[%d]%s '%s' -> [%d] '0x%s' %s\n", r.KeyLen, marker, r.Key, r.ValueLen, hexv, r.Value)
}

// isPrintable reports whether every byte is printable ASCII or ASCII
// whitespace.
func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f {
			continue
		}
		switch c {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		}
		return false
	}
	return true
}

// escapeBytes keeps bytes in 32..127 and writes every other byte as
// \<decimal>.
func escapeBytes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 31 && c < 128 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('\\')
		b.WriteString(strconv.Itoa(int(c)))
	}
	return b.String()
}

package cli

import (
	"bytes"
	"testing"

	"go.uber.org/goleak"

	"github.com/roach88/provtrace/internal/testutil"
)

func TestMain(m *testing.M) {
	// goleveldb's mpoolDrain exits up to a second after DB.Close.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"))
}

// sampleRecords is one process that reads an input, writes an output and
// touches a denied library path.
func sampleRecords() testutil.Records {
	return testutil.Records{
		"pid.100.1000":              "foo",
		"prv.pid.100.1000.path":     "/usr/bin/foo",
		"prv.pid.100.1000.iexit":    "9000",
		"prv.iopid.100.1000.1.2000": "/home/x/in.txt",
		"prv.iopid.100.1000.1.2200": "/usr/lib/libc.so.6",
		"prv.iopid.100.1000.2.3000": "/home/x/out.txt",
	}
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

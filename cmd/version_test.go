package cmd

import (
	"fmt"
	"github.com/nxnxha/RnGM/rencontre"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := rencontre.Version
	originalCommitSHA := rencontre.CommitSHA
	originalBuildTime := rencontre.BuildTime

	t.Cleanup(
		func() {
			rencontre.Version = originalVersion
			rencontre.CommitSHA = originalCommitSHA
			rencontre.BuildTime = originalBuildTime
		},
	)

	rencontre.Version = "1.0.0"
	rencontre.CommitSHA = "abc123"
	rencontre.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		rencontre.Version,
		rencontre.CommitSHA,
		rencontre.BuildTime,
	)
	assert.Equal(t, expected, output)
}

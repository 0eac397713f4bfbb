package nuclei_test

import (
	"testing"

	"github.com/waverly/waverly/internal/nuclei"

	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	t.Run("full option set keeps the fixed flag order", func(t *testing.T) {
		t.Parallel()
		task, err := nuclei.NewTask(nuclei.TaskSpec{
			Name:        "full",
			Targets:     []string{"https://example.com"},
			Templates:   []string{"demo.yaml"},
			RateLimit:   50,
			Concurrency: 10,
			Severity:    nuclei.SeverityMedium,
			Proxy:       "socks5://127.0.0.1:1080",
			InteractURL: "https://oast.example.net",
			OutputPath:  "raw.txt",
		})
		require.NoError(t, err)

		require.Equal(t, []string{
			"-json",
			"-rl", "50",
			"-c", "10",
			"-severity", "medium",
			"-proxy", "socks5://127.0.0.1:1080",
			"-interactsh-url", "https://oast.example.net",
			"-t", "demo.yaml",
			"-target", "https://example.com",
			"-o", "raw.txt",
		}, nuclei.BuildArgs(task))
	})

	t.Run("unset options are omitted", func(t *testing.T) {
		t.Parallel()
		task, err := nuclei.NewTask(nuclei.TaskSpec{
			Name:    "bare",
			Targets: []string{"https://example.com"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"-json", "-target", "https://example.com"}, nuclei.BuildArgs(task))
	})

	t.Run("list order is preserved", func(t *testing.T) {
		t.Parallel()
		task, err := nuclei.NewTask(nuclei.TaskSpec{
			Name:      "ordered",
			Targets:   []string{"https://b.example.com", "https://a.example.com"},
			Templates: []string{"second.yaml", "first.yaml"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{
			"-json",
			"-t", "second.yaml",
			"-t", "first.yaml",
			"-target", "https://b.example.com",
			"-target", "https://a.example.com",
		}, nuclei.BuildArgs(task))
	})
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/flowforge/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment and suggest worker sizing",
	Long:  "Inspect configuration, provider credentials and host resources.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Checking configuration...")
	fmt.Println()

	ok := true
	if cfg.Providers.OpenAI.Enabled && cfg.Providers.OpenAI.APIKey == "" {
		fmt.Println("  ✗ openai enabled but no API key set (FLOWFORGE_PROVIDERS_OPENAI_API_KEY)")
		ok = false
	}
	if cfg.Providers.Anthropic.Enabled && cfg.Providers.Anthropic.APIKey == "" {
		fmt.Println("  ✗ anthropic enabled but no API key set (FLOWFORGE_PROVIDERS_ANTHROPIC_API_KEY)")
		ok = false
	}
	if !cfg.Providers.OpenAI.Enabled && !cfg.Providers.Anthropic.Enabled {
		fmt.Println("  ⚠ no providers enabled, ai steps cannot run")
	}
	if ok {
		fmt.Println("  ✓ provider configuration valid")
	}

	if cfg.Definitions.Dir != "" {
		if _, err := os.Stat(cfg.Definitions.Dir); err != nil {
			fmt.Printf("  ⚠ definitions directory missing: %s\n", cfg.Definitions.Dir)
		} else {
			fmt.Printf("  ✓ definitions directory: %s\n", cfg.Definitions.Dir)
		}
	}
	fmt.Printf("  ✓ state database: %s\n", cfg.State.Path)
	fmt.Println()

	fmt.Println("Checking host resources...")
	fmt.Println()

	info := diagnostics.Collect(filepath.Dir(cfg.State.Path))
	fmt.Printf("  cpu:    %d cores", info.CPUCores)
	if info.CPUModel != "" {
		fmt.Printf(" (%s)", info.CPUModel)
	}
	if info.CPUValid {
		fmt.Printf(", %.0f%% busy", info.CPUPercent)
	}
	fmt.Println()
	if info.MemValid {
		fmt.Printf("  memory: %.0f MB / %.0f MB (%.0f%%)\n",
			info.MemUsedMB, info.MemTotalMB, info.MemPercent)
	}
	if info.DiskValid {
		fmt.Printf("  disk:   %.1f GB free of %.1f GB\n", info.DiskFreeGB, info.DiskTotalGB)
		if info.DiskFreeGB < 1 {
			fmt.Println("  ⚠ less than 1 GB free where the state database lives")
		}
	}
	if info.LoadValid {
		fmt.Printf("  load:   %.2f\n", info.LoadAvg1)
	}
	fmt.Println()

	suggested := info.SuggestWorkers()
	fmt.Printf("Worker sizing: queue.workers = %d configured, %d suggested for this host\n",
		cfg.Queue.Workers, suggested)

	if !ok {
		return fmt.Errorf("configuration check failed")
	}
	return nil
}

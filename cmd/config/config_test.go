package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"contracthost/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Node.ID != "contracthost-mainnet" {
		t.Fatalf("unexpected node id: %s", AppConfig.Node.ID)
	}
	if AppConfig.Hardfork.Version != 4 {
		t.Fatalf("unexpected hardfork version: %d", AppConfig.Hardfork.Version)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Gas.DefaultLimit != 10_000_000 {
		t.Fatalf("expected DefaultLimit 10000000, got %d", AppConfig.Gas.DefaultLimit)
	}
	if AppConfig.Node.ID != "contracthost-bootstrap" {
		t.Fatalf("expected node id override")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("node:\n  id: sandbox\nhardfork:\n  version: 1\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Node.ID != "sandbox" {
		t.Fatalf("expected node id sandbox, got %s", AppConfig.Node.ID)
	}
	if AppConfig.Hardfork.Version != 1 {
		t.Fatalf("expected hardfork version 1, got %d", AppConfig.Hardfork.Version)
	}
}

package main

// contracthost is the CLI driver for the contract execution host,
// adapted from cmd/synnergy/main.go's cobra skeleton: `run` loads and
// invokes one ABI function against a fresh ledger/engine pair and
// prints the JSON result; `serve` starts the chi-routed admin HTTP
// surface for inspecting deployed contracts, balances, lifecycle state
// and the registry Merkle commitment.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"contracthost/core"
	"contracthost/pkg/config"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{Use: "contracthost"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(manifestCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadAppConfig(env string) (*config.Config, error) {
	return config.Load(env)
}

func setupLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// buildHost wires a Ledger, AccessController, ContractRegistry,
// EngineFactory and DefaultDriver from cfg, the same set InitContracts
// needs for either `run` or `serve`.
func buildHost(cfg *config.Config) (*core.Ledger, *core.ContractRegistry, *core.DefaultDriver, error) {
	led, err := core.NewLedger(core.LedgerConfig{SnapshotPath: cfg.DB.Path})
	if err != nil {
		return nil, nil, nil, err
	}
	core.SetCurrentLedger(led)
	core.InitEvents(led)

	access := core.NewAccessController(led)

	engCfg := core.EngineConfig{
		Hardfork:   cfg.Hardfork.Version,
		GasLimit:   cfg.Gas.DefaultLimit,
		InstrLimit: cfg.Gas.DefaultInstrLimit,
		MaxMemory:  cfg.Gas.DefaultMaxMemory,
		WallClock:  time.Duration(cfg.Gas.WallClockMS) * time.Millisecond,
		DBDir:      cfg.DB.ContractDir,
	}
	factory := core.NewEngineFactory(led, engCfg)

	driver := core.NewDefaultDriver(led, nil, access, factory)
	factory.Cfg.Driver = driver

	core.InitContracts(led, factory)
	reg := core.GetContractRegistry()
	driver.Registry = reg
	reg.SetManager(core.NewContractManager(led, reg))

	return led, reg, driver, nil
}

func runCmd() *cobra.Command {
	var env string
	var deployFirst bool
	var fn string

	cmd := &cobra.Command{
		Use:   "run <code.lua> <fn> [json-args]",
		Short: "deploy and invoke one ABI function of a Lua contract",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(env)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging.Level)

			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fn = args[1]
			argsJSON := ""
			if len(args) == 3 {
				argsJSON = args[2]
			}

			_, reg, driver, err := buildHost(cfg)
			if err != nil {
				return err
			}

			creator := core.AddressZero
			addr := core.DeriveContractAddress(creator, code)
			if deployFirst {
				if err := reg.Deploy(addr, creator, code, nil, cfg.Gas.DefaultLimit); err != nil {
					return err
				}
			}

			svc := &core.ServiceContext{
				Sender:     creator,
				Creator:    creator,
				Origin:     creator,
				ContractID: addr,
				Driver:     driver,
			}

			out, err := reg.Invoke(svc, addr, fn, argsJSON, cfg.Gas.DefaultLimit)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (cmd/config/<env>.yaml)")
	cmd.Flags().BoolVar(&deployFirst, "deploy", true, "deploy the contract before invoking fn")
	return cmd
}

func serveCmd() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(env)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging.Level)

			if !cfg.Admin.Enabled {
				return fmt.Errorf("contracthost: admin surface disabled in config")
			}

			_, reg, driver, err := buildHost(cfg)
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)

			r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})

			r.Get("/contracts", func(w http.ResponseWriter, req *http.Request) {
				writeJSON(w, contractSummaries(reg))
			})

			r.Get("/contracts/{addr}", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				sc, ok := reg.Get(addr)
				if !ok {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				writeJSON(w, contractSummary(sc))
			})

			r.Get("/contracts/{addr}/balance", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				bal, err := driver.GetBalance(&core.ServiceContext{}, addr)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				writeJSON(w, map[string]string{"balance": bal.String()})
			})

			mgr := reg.Manager()

			r.Get("/contracts/{addr}/lifecycle", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				info, err := mgr.ContractInfo(addr)
				if err != nil {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(info)
			})

			r.Post("/contracts/{addr}/pause", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				if err := mgr.PauseContract(addr); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Post("/contracts/{addr}/resume", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				if err := mgr.ResumeContract(addr); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Post("/contracts/{addr}/owner", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				var body struct {
					NewOwner string `json:"new_owner"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				newOwner, err := core.ParseAddressHex(body.NewOwner)
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				if err := mgr.TransferOwnership(addr, newOwner); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Get("/merkle/root", func(w http.ResponseWriter, req *http.Request) {
				root, err := reg.MerkleRoot()
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				writeJSON(w, map[string]string{"root": fmt.Sprintf("0x%x", root)})
			})

			r.Get("/contracts/{addr}/proof", func(w http.ResponseWriter, req *http.Request) {
				addr, err := core.ParseAddressHex(chi.URLParam(req, "addr"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				proof, root, err := reg.MerkleProof(addr)
				if err != nil {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				hexProof := make([]string, len(proof))
				for i, p := range proof {
					hexProof[i] = fmt.Sprintf("0x%x", p)
				}
				writeJSON(w, map[string]interface{}{
					"root":  fmt.Sprintf("0x%x", root),
					"proof": hexProof,
				})
			})

			logrus.WithField("addr", cfg.Admin.Addr).Info("admin surface listening")
			return http.ListenAndServe(cfg.Admin.Addr, r)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (cmd/config/<env>.yaml)")
	return cmd
}

// deployManifest lists a batch of contracts to deploy in one pass,
// adapted from cmd/synnergy's devnet.go testnet manifest (a YAML list of
// node configs unmarshalled with yaml.v3). Here each entry is a contract
// to deploy rather than a node to launch.
type deployManifest struct {
	Contracts []struct {
		Name string `yaml:"name"`
		Code string `yaml:"code"`
	} `yaml:"contracts"`
}

func manifestCmd() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "manifest <manifest.yaml>",
		Short: "deploy every contract listed in a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(env)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging.Level)

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var mf deployManifest
			if err := yaml.Unmarshal(raw, &mf); err != nil {
				return fmt.Errorf("contracthost: parse manifest: %w", err)
			}

			_, reg, _, err := buildHost(cfg)
			if err != nil {
				return err
			}

			creator := core.AddressZero
			for _, c := range mf.Contracts {
				code, err := os.ReadFile(c.Code)
				if err != nil {
					return fmt.Errorf("contracthost: read %s: %w", c.Code, err)
				}
				addr := core.DeriveContractAddress(creator, code)
				if err := reg.Deploy(addr, creator, code, nil, cfg.Gas.DefaultLimit); err != nil {
					return fmt.Errorf("contracthost: deploy %s: %w", c.Name, err)
				}
				logrus.WithFields(logrus.Fields{"name": c.Name, "address": addr.Hex()}).Info("deployed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (cmd/config/<env>.yaml)")
	return cmd
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type contractView struct {
	Address   string `json:"address"`
	Creator   string `json:"creator"`
	GasLimit  uint64 `json:"gas_limit"`
	CreatedAt int64  `json:"created_at"`
}

func contractSummary(sc *core.SmartContract) contractView {
	return contractView{
		Address:   sc.Address.Hex(),
		Creator:   sc.Creator.Hex(),
		GasLimit:  sc.GasLimit,
		CreatedAt: sc.CreatedAt,
	}
}

func contractSummaries(reg *core.ContractRegistry) []contractView {
	all := reg.All()
	out := make([]contractView, 0, len(all))
	for _, sc := range all {
		out = append(out, contractSummary(sc))
	}
	return out
}

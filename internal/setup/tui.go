package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tokensieve/config"
)

// DefaultFile the wizard writes to.
const DefaultFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collected by the wizard.
type Answers struct {
	RPCURL          string
	Block           string
	ReferenceAmount string
	BuyTaxPercent   string
	SellTaxPercent  string
	TransferPercent string
	Conclusive      bool
	PoolSource      string
	PoolsFile       string
	Workers         string
}

// DefaultAnswers pre-fill the wizard.
func DefaultAnswers() Answers {
	return Answers{
		ReferenceAmount: "0.1",
		BuyTaxPercent:   "5",
		SellTaxPercent:  "10",
		TransferPercent: "10",
		PoolSource:      "factories",
		Workers:         "4",
	}
}

// RunTUI launches the terminal configuration wizard and writes the result to filename.
func RunTUI(filename string) error {
	if filename == "" {
		filename = DefaultFile
	}
	a := DefaultAnswers()
	var confirm bool

	// step 1: node
	screen("STEP 1: NODE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Forks are read from an archive-capable JSON-RPC endpoint.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("RPC URL").
				Description("Leave empty to use the RPC_URL env variable").
				Value(&a.RPCURL),
			huh.NewInput().
				Title("Fork block").
				Description("Empty forks the latest block").
				Value(&a.Block).
				Validate(optionalPositive),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: thresholds
	screen("STEP 2: THRESHOLDS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("WETH per buy probe").
				Value(&a.ReferenceAmount).
				Validate(positiveDecimal),
			huh.NewInput().
				Title("Max buy tax %").
				Value(&a.BuyTaxPercent).
				Validate(validatePercent),
			huh.NewInput().
				Title("Max sell tax %").
				Value(&a.SellTaxPercent).
				Validate(validatePercent),
			huh.NewInput().
				Title("Max transfer tax %").
				Value(&a.TransferPercent).
				Validate(validatePercent),
			huh.NewConfirm().
				Title("Flag tokens whose plain transfer reverts?").
				Description("Some legitimate tokens block transfers between fresh wallets").
				Value(&a.Conclusive),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: pools
	screen("STEP 3: POOLS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where do pools come from?").
				Options(
					huh.NewOption("Uniswap V2 and Sushiswap factories", "factories"),
					huh.NewOption("A YAML or JSON file", "file"),
				).
				Value(&a.PoolSource),
			huh.NewInput().
				Title("Concurrent tokens").
				Value(&a.Workers).
				Validate(optionalPositive),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.PoolSource == "file" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Pools file").
					Value(&a.PoolsFile).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("path cannot be empty")
						}
						return nil
					}),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// confirmation
	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"RPC: %s\nBlock: %s\nProbe: %s WETH\nTaxes: buy %s%%, sell %s%%, transfer %s%%\nPools: %s %s\n",
		stringOr(a.RPCURL, "$RPC_URL"), stringOr(a.Block, "latest"), a.ReferenceAmount,
		a.BuyTaxPercent, a.SellTaxPercent, a.TransferPercent, a.PoolSource, a.PoolsFile,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfgTmp, err := Build(a)
	if err != nil {
		return err
	}
	if err := Write(filename, cfgTmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// Build converts wizard answers into the YAML config form.
func Build(a Answers) (config.ConfigTmp, error) {
	tmp := config.ConfigTmp{
		RPCURL:   a.RPCURL,
		BlockStr: a.Block,
		References: []config.ReferenceTmp{
			{Address: config.WETH.Hex(), Amount: a.ReferenceAmount},
		},
		TransferFailureConclusive: a.Conclusive,
		WorkersStr:                a.Workers,
	}

	var err error
	if tmp.BuyTaxBpsStr, err = percentToBps(a.BuyTaxPercent); err != nil {
		return config.ConfigTmp{}, err
	}
	if tmp.SellTaxBpsStr, err = percentToBps(a.SellTaxPercent); err != nil {
		return config.ConfigTmp{}, err
	}
	if tmp.TransferTaxBpsStr, err = percentToBps(a.TransferPercent); err != nil {
		return config.ConfigTmp{}, err
	}

	if a.PoolSource == "file" {
		tmp.Pools.File = a.PoolsFile
	} else {
		tmp.Pools.Factories = []config.FactoryTmp{
			{Name: "uniswap_v2", Address: config.UniswapV2Factory.Hex()},
			{Name: "sushiswap", Address: config.SushiswapFactory.Hex()},
		}
	}

	if _, err := config.Parse(tmp); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

// Write stores tmp as YAML at filename.
func Write(filename string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("TOKENSIEVE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

func percentToBps(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
	if err != nil {
		return "", fmt.Errorf("invalid percent %q", s)
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).String(), nil
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("must be above 0 and at most 100")
	}
	return nil
}

func positiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func optionalPositive(s string) error {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseUint(s, 10, 64); err != nil || v == 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}


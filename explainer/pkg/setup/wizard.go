package setup

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
)

// Step is one page of the setup wizard.
type Step string

const (
	StepIntro        Step = "intro"
	StepCreateWallet Step = "create_wallet"
	StepFunding      Step = "funding"
	StepChannels     Step = "channels"
	StepComplete     Step = "complete"
)

var Steps = []Step{StepIntro, StepCreateWallet, StepFunding, StepChannels, StepComplete}

var stepLabels = map[Step]string{
	StepIntro:        "Intro",
	StepCreateWallet: "Create Wallet",
	StepFunding:      "Funding",
	StepChannels:     "Channels",
	StepComplete:     "Complete",
}

func (s Step) Index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// Progress is the percentage of the wizard completed at s.
func (s Step) Progress() int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / (len(Steps) - 1)
}

func (s Step) Label() string { return stepLabels[s] }

const (
	DefaultCreationDelay = 1500 * time.Millisecond
	DefaultWalletAlias   = "My Lightning Wallet"
	fallbackWalletAlias  = "My Wallet"
)

var (
	ErrWrongStep      = errors.New("action not available at this step")
	ErrInvalidWallet  = errors.New("invalid wallet details")
	ErrCreating       = errors.New("wallet creation in progress")
	ErrUnknownFunding = errors.New("unknown funding option")
	ErrStopped        = errors.New("setup stopped")
)

// WalletForm is the create-wallet input. The password is only checked, never kept.
type WalletForm struct {
	Alias           string `json:"alias"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (f WalletForm) Validate() error {
	if strings.TrimSpace(f.Alias) == "" {
		return fmt.Errorf("%w: please enter a wallet name", ErrInvalidWallet)
	}
	if f.Password == "" {
		return fmt.Errorf("%w: please enter a password", ErrInvalidWallet)
	}
	if f.Password != f.ConfirmPassword {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidWallet)
	}
	return nil
}

type Config struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	CreationDelay time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CreationDelay <= 0 {
		cfg.CreationDelay = DefaultCreationDelay
	}
	return nil
}

type Wallet struct {
	Alias      string         `json:"alias"`
	Balance    btcutil.Amount `json:"balance"`
	BalanceBTC string         `json:"balanceBtc"`
	NodePubKey string         `json:"nodePubKey,omitempty"`
	Channels   int            `json:"channels"`
}

// Wizard walks a user through creating and funding a simulated wallet.
type Wizard struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	step       Step
	wallet     *Wallet
	creating   bool
	lastError  string
	timer      clockwork.Timer
	generation uint64
	stopped    bool
}

// New creates a wizard at the intro step.
func New(cfg Config) (*Wizard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Wizard{log: cfg.Logger, cfg: cfg, step: StepIntro}, nil
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Next advances one step. At the last step it does nothing.
func (w *Wizard) Next() (Step, error) {
	return w.move(1)
}

// Back returns one step. At the first step it does nothing.
func (w *Wizard) Back() (Step, error) {
	return w.move(-1)
}

func (w *Wizard) move(delta int) (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return w.step, ErrStopped
	}
	if w.creating {
		return w.step, ErrCreating
	}
	i := w.step.Index() + delta
	if i >= 0 && i < len(Steps) {
		w.step = Steps[i]
		w.lastError = ""
	}
	return w.step, nil
}

// SubmitWallet validates the form and starts the simulated creation. The
// wizard moves to funding once the creation delay has passed.
func (w *Wizard) SubmitWallet(form WalletForm) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.stopped:
		return ErrStopped
	case w.step != StepCreateWallet:
		return fmt.Errorf("%w: %s", ErrWrongStep, w.step)
	case w.creating:
		return ErrCreating
	}
	if err := form.Validate(); err != nil {
		w.lastError = strings.TrimPrefix(err.Error(), ErrInvalidWallet.Error()+": ")
		return err
	}

	w.lastError = ""
	w.creating = true
	w.generation++
	gen := w.generation
	alias := strings.TrimSpace(form.Alias)
	w.timer = w.cfg.Clock.AfterFunc(w.cfg.CreationDelay, func() { w.walletCreated(gen, alias) })
	w.log.Debug("setup: wallet creation started", "alias", alias)
	return nil
}

func (w *Wizard) walletCreated(gen uint64, alias string) {
	// Key generation happens outside the lock.
	pubkey, err := newNodeKey()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || gen != w.generation {
		return
	}
	w.timer = nil
	w.creating = false
	if err != nil {
		w.lastError = "could not create node identity"
		w.log.Error("setup: node key generation failed", "error", err)
		return
	}
	w.wallet = &Wallet{Alias: alias, NodePubKey: pubkey, Channels: len(suggestedPeers)}
	w.step = StepFunding
	w.log.Debug("setup: wallet created", "alias", alias, "pubkey", pubkey)
}

func newNodeKey() (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.PubKey().SerializeCompressed()), nil
}

// SelectFunding records the chosen funding amount and advances to channels.
func (w *Wizard) SelectFunding(optionID string) (FundingOption, error) {
	opt, ok := FindFundingOption(optionID)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.stopped:
		return FundingOption{}, ErrStopped
	case w.step != StepFunding:
		return FundingOption{}, fmt.Errorf("%w: %s", ErrWrongStep, w.step)
	case !ok:
		return FundingOption{}, fmt.Errorf("%w: %q", ErrUnknownFunding, optionID)
	}

	if w.wallet == nil {
		w.wallet = &Wallet{Alias: fallbackWalletAlias, Channels: len(suggestedPeers)}
	}
	w.wallet.Balance = opt.Amount
	w.wallet.BalanceBTC = simulation.FormatBTC(opt.Amount)
	w.step = StepChannels
	w.lastError = ""
	return opt, nil
}

// Restart returns to the intro and forgets the wallet.
func (w *Wizard) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
	w.step = StepIntro
	w.wallet = nil
	w.lastError = ""
}

// Stop cancels a pending wallet creation. It is safe to call more than once.
func (w *Wizard) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
	w.stopped = true
}

func (w *Wizard) cancelLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.creating = false
	w.generation++
}

type StepInfo struct {
	Step  Step   `json:"step"`
	Label string `json:"label"`
}

type Snapshot struct {
	Step      Step       `json:"step"`
	Label     string     `json:"label"`
	Progress  int        `json:"progress"`
	Steps     []StepInfo `json:"steps"`
	Creating  bool       `json:"creating"`
	Error     string     `json:"error,omitempty"`
	Wallet    *Wallet    `json:"wallet,omitempty"`
	CanGoBack bool       `json:"canGoBack"`
}

// Snapshot returns a consistent view of the wizard for rendering.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := make([]StepInfo, len(Steps))
	for i, s := range Steps {
		steps[i] = StepInfo{Step: s, Label: s.Label()}
	}
	var wallet *Wallet
	if w.wallet != nil {
		cp := *w.wallet
		wallet = &cp
	}
	return Snapshot{
		Step:      w.step,
		Label:     w.step.Label(),
		Progress:  w.step.Progress(),
		Steps:     steps,
		Creating:  w.creating,
		Error:     w.lastError,
		Wallet:    wallet,
		CanGoBack: !w.creating && w.step != StepIntro,
	}
}

package esp32c2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mklimuk/efuse"
)

// Efuses is a session on one connected ESP32-C2. It owns the blocks read from
// the device, the typed fields over them and the staged writes.
type Efuses struct {
	chip  efuse.Chip
	opts  Options
	ctrl  *Controller
	acct  *efuse.Accountant
	table *Table

	blocks []*efuse.Block
	fields []*efuse.Field
	byName map[string]*efuse.Field
	// calibrated is set when the BLOCK2 calibration fields are listed.
	calibrated bool
	failed     bool
}

// New checks the chip family and security mode, reads every block and builds
// the full field set.
func New(ctx context.Context, chip efuse.Chip, opts ...Option) (*Efuses, error) {
	o := newOptions(opts)
	name, err := chip.ChipName(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not identify chip: %w", err)
	}
	if name != ChipName {
		return nil, &efuse.ChipMismatchError{Expected: ChipName, Actual: name}
	}
	if !o.SkipConnect {
		flags, err := chip.SecurityFlags(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not read security info: %w", err)
		}
		if flags&SecureDownloadFlag != 0 {
			return nil, efuse.ErrSecureDownload
		}
	}
	table, err := LoadTable()
	if err != nil {
		return nil, err
	}

	e := &Efuses{
		chip:   chip,
		opts:   o,
		ctrl:   newController(chip, o),
		acct:   efuse.NewAccountant(chip, RepeatErrors, BlockErrors, o.Logger),
		table:  table,
		byName: make(map[string]*efuse.Field, len(table.Fields)),
	}
	for _, d := range Blocks {
		e.blocks = append(e.blocks, efuse.NewBlock(d))
	}
	if !o.SkipConnect {
		if err := e.readBlocks(ctx); err != nil {
			return nil, err
		}
		if _, err := e.CheckErrors(ctx, false); err != nil {
			return nil, err
		}
	}
	for _, d := range table.Fields {
		f, err := efuse.NewField(d, e.blocks[d.Block], table.KeyPurposes, efuse.WithWriteProtection(e.blocks[0]))
		if err != nil {
			return nil, err
		}
		e.fields = append(e.fields, f)
		e.byName[f.Name] = f
	}
	e.calibrated = o.SkipConnect || e.byName["BLOCK2_VERSION"].Raw() == 1
	return e, nil
}

func (e *Efuses) KeyPurposes() efuse.KeyPurposes { return e.table.KeyPurposes }

func (e *Efuses) Blocks() []*efuse.Block { return e.blocks }

func (e *Efuses) Block(id int) (*efuse.Block, error) {
	if id < 0 || id >= len(e.blocks) {
		return nil, fmt.Errorf("%w: %d", efuse.ErrUnknownBlock, id)
	}
	return e.blocks[id], nil
}

// BlockByName resolves a block by name, alias or id.
func (e *Efuses) BlockByName(name string) (*efuse.Block, error) {
	d, err := LookupBlock(name)
	if err != nil {
		return nil, err
	}
	return e.blocks[d.ID], nil
}

// Field resolves any field by name, calibration fields included.
func (e *Efuses) Field(name string) (*efuse.Field, error) {
	f, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", efuse.ErrUnknownField, name)
	}
	return f, nil
}

// Fields lists the fields in table order. BLOCK2 calibration fields are only
// listed when the chip carries calibration data.
func (e *Efuses) Fields() []*efuse.Field {
	out := make([]*efuse.Field, 0, len(e.fields))
	for _, f := range e.fields {
		if f.Calibration && !e.calibrated {
			continue
		}
		out = append(out, f)
	}
	return out
}

// BlockErrors returns the error count and fail flag of a block.
func (e *Efuses) BlockErrors(id int) (int, bool, error) {
	b, err := e.Block(id)
	if err != nil {
		return 0, false, err
	}
	n, fail := b.Errors()
	return n, fail, nil
}

// Failed reports whether any block failed on the last error check.
func (e *Efuses) Failed() bool { return e.failed }

// Refresh reloads the fuses into the read registers, reads every block and
// checks errors.
func (e *Efuses) Refresh(ctx context.Context) error {
	if err := e.ctrl.Read(ctx); err != nil {
		return err
	}
	if err := e.readBlocks(ctx); err != nil {
		return err
	}
	_, err := e.CheckErrors(ctx, false)
	return err
}

func (e *Efuses) readBlocks(ctx context.Context) error {
	for _, b := range e.blocks {
		if err := e.readBlock(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Efuses) readBlock(ctx context.Context, b *efuse.Block) error {
	words := make([]uint32, b.Words)
	for i := range words {
		v, err := e.chip.ReadReg(ctx, b.ReadAddr+4*uint32(i))
		if err != nil {
			return fmt.Errorf("could not read %s word %d: %w", b.Name, i, err)
		}
		words[i] = v
	}
	return b.Load(words)
}

// CheckErrors refreshes the error counters of every block. Unless silent, blocks
// with errors are logged and the status registers are dumped when debugging or
// when a block failed.
func (e *Efuses) CheckErrors(ctx context.Context, silent bool) (bool, error) {
	failed, err := e.acct.Check(ctx, e.blocks, silent)
	if err != nil {
		return false, err
	}
	e.failed = failed
	if (e.opts.Debug || failed) && !silent && e.opts.Output != nil {
		if err := e.DumpStatus(ctx, e.opts.Output); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// DumpStatus writes the block 0 error bits and the RS error register.
func (e *Efuses) DumpStatus(ctx context.Context, w io.Writer) error {
	b0 := e.blocks[0]
	words := make([]string, 0, b0.Words)
	for _, v := range b0.ErrorBits() {
		words = append(words, fmt.Sprintf("%08x", v))
	}
	rs, err := e.chip.ReadReg(ctx, RegRdRSErr)
	if err != nil {
		return fmt.Errorf("could not read RS error register: %w", err)
	}
	_, err = fmt.Fprintf(w, "\n%-15s err__regs: %s\n%-27s 0x%08x\n", b0.Name, strings.Join(words, " "), "EFUSE_RD_RS_ERR_REG", rs)
	return err
}

// Info describes a field with its block status and, for key blocks, the key
// purpose currently burned.
func (e *Efuses) Info(f *efuse.Field) string {
	out := f.Info()
	name := f.Block().KeyPurposeName
	if name == "" {
		return out
	}
	purpose, err := e.Field(name)
	if err != nil {
		return out
	}
	if v, err := purpose.Get(); err == nil {
		out += fmt.Sprintf("\n  Purpose: %s\n ", v)
	}
	return out
}

// Save stages a new value for a field.
func (e *Efuses) Save(name, value string) error {
	f, err := e.Field(name)
	if err != nil {
		return err
	}
	return f.Save(value)
}

// StageBlockData stages raw data for a whole block, starting at byte offset.
func (e *Efuses) StageBlockData(name string, offset int, data []byte) error {
	b, err := e.BlockByName(name)
	if err != nil {
		return err
	}
	if b.ID == 0 {
		return fmt.Errorf("%w: BLOCK0 holds configuration fields, burn them by name", efuse.ErrReadOnly)
	}
	if err := b.StageData(offset, data); err != nil {
		return &efuse.ValidationError{Field: b.Name, Err: err}
	}
	return nil
}

// StageKey stages a key or digest into a key block together with its purpose.
// AES-XTS keys are stored with their bytes reversed for the hardware peripheral.
func (e *Efuses) StageKey(blockName string, key []byte, purpose string) error {
	b, err := e.BlockByName(blockName)
	if err != nil {
		return err
	}
	if b.KeyPurposeName == "" {
		return fmt.Errorf("%w: %s is not a key block", efuse.ErrUnknownBlock, b.Name)
	}
	p, ok := e.table.KeyPurposes.ByName(purpose)
	if !ok {
		return &efuse.ValidationError{Field: b.KeyPurposeName, Err: fmt.Errorf("%w: %s", efuse.ErrUnknownKeyPurpose, purpose)}
	}
	target := b.Name
	switch {
	case p.Name == "XTS_AES_128_KEY_DERIVED_FROM_128_EFUSE_BITS":
		target += "_LOW_128"
	case p.Digest:
		target += "_HI_128"
	}
	f, err := e.Field(target)
	if err != nil {
		return err
	}
	raw := key
	if strings.HasPrefix(p.Name, "XTS_AES") {
		raw = slices.Clone(key)
		slices.Reverse(raw)
	}
	staged := b.Staged()
	if err := f.SaveBytes(raw); err != nil {
		return err
	}
	if err := e.Save(b.KeyPurposeName, p.Name); err != nil {
		b.Restage(staged)
		return err
	}
	return nil
}

// Pending returns the blocks with staged bits.
func (e *Efuses) Pending() []*efuse.Block {
	var out []*efuse.Block
	for _, b := range e.blocks {
		if b.Pending() {
			out = append(out, b)
		}
	}
	return out
}

// Discard drops every staged write.
func (e *Efuses) Discard() {
	for _, b := range e.blocks {
		b.Discard()
	}
}

// Burn programs every block with staged bits, highest id first so that the
// write protection bits of BLOCK0 go last. Each block is read back and checked
// for missing bits; a failed block stops the burn.
func (e *Efuses) Burn(ctx context.Context) error {
	pending := e.Pending()
	if len(pending) == 0 {
		e.opts.Logger.Info("nothing to burn")
		return nil
	}
	if !e.opts.DoNotConfirm {
		if e.opts.Confirm == nil {
			return fmt.Errorf("%w: no confirmation available", efuse.ErrAborted)
		}
		ok, err := e.opts.Confirm(ctx, e.burnSummary(pending))
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return efuse.ErrAborted
		}
	}
	slices.Reverse(pending)
	for _, b := range pending {
		if err := e.burnBlock(ctx, b); err != nil {
			return err
		}
	}
	e.opts.Logger.Info("burn completed", "blocks", len(pending))
	return nil
}

func (e *Efuses) burnBlock(ctx context.Context, b *efuse.Block) error {
	payload := b.Payload()
	words, err := efuse.Encode(payload, b.Scheme, b.BurnUnit)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", b.Name, err)
	}
	e.opts.Logger.Info("burning block", "block", b.Name, "bits", b.PendingBits())
	errsBefore, failBefore := b.Errors()
	if err := e.ctrl.Setup(ctx); err != nil {
		return err
	}
	if err := e.ctrl.ProgramBlock(ctx, b.ID, words); err != nil {
		return err
	}
	// errors that were already reported before the burn are not repeated
	if _, err := e.CheckErrors(ctx, true); err != nil {
		return err
	}
	if errs, fail := b.Errors(); errs > errsBefore || (fail && !failBefore) {
		e.opts.Logger.Error("block reads back with errors", "block", b.Name, "errors", errs, "fail", fail)
		return fmt.Errorf("%w: %s has %d error(s), fail %t", efuse.ErrBurnFailed, b.Name, errs, fail)
	}
	if err := e.readBlock(ctx, b); err != nil {
		return err
	}
	b.Discard()
	if missing := b.Missing(payload); missing != 0 {
		return &efuse.VerifyError{Block: b.ID, Missing: missing}
	}
	return nil
}

func (e *Efuses) burnSummary(pending []*efuse.Block) string {
	var sb strings.Builder
	sb.WriteString("Burn the following blocks:")
	for _, b := range pending {
		fmt.Fprintf(&sb, "\n  - %s: %d bit(s), coding %s", b.Name, b.PendingBits(), b.Scheme)
	}
	return sb.String()
}

// FieldSummary is one line of the chip summary.
type FieldSummary struct {
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	Block          int    `yaml:"block"`
	Value          string `yaml:"value"`
	Description    string `yaml:"description"`
	WriteProtected bool   `yaml:"write_protected"`
	Errors         int    `yaml:"errors,omitempty"`
	Fail           bool   `yaml:"fail,omitempty"`
}

// Summary decodes every listed field.
func (e *Efuses) Summary() []FieldSummary {
	fields := e.Fields()
	out := make([]FieldSummary, 0, len(fields))
	for _, f := range fields {
		n, fail := f.Block().Errors()
		out = append(out, FieldSummary{
			Name:           f.Name,
			Category:       f.Category,
			Block:          f.Block().ID,
			Value:          f.String(),
			Description:    f.Description,
			WriteProtected: f.WriteProtected(),
			Errors:         n,
			Fail:           fail,
		})
	}
	return out
}

// IsVerifyError reports whether err is a post-burn read-back mismatch.
func IsVerifyError(err error) bool {
	var v *efuse.VerifyError
	return errors.As(err, &v)
}

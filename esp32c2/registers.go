// Package esp32c2 holds the ESP32-C2 eFuse tables, the programming controller
// and the session that ties blocks, fields and burning together.
package esp32c2

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// ChipName is reported by the ROM loader for this family.
const ChipName = "ESP32-C2"

// Controller register map.
const (
	RegBase = 0x60008800

	RegPgmData0    = RegBase + 0x000
	RegCheckValue0 = RegBase + 0x020
	RegRdWrDis     = RegBase + 0x02C
	RegRdBlock1    = RegBase + 0x034
	RegRdBlock2    = RegBase + 0x040
	RegRdBlockKey0 = RegBase + 0x060
	RegRdRepeatErr = RegBase + 0x080
	RegRdRSErr     = RegBase + 0x084
	RegClk         = RegBase + 0x088
	RegConf        = RegBase + 0x08C
	RegStatus      = RegBase + 0x090
	RegCmd         = RegBase + 0x094
	RegWrTimConf2  = RegBase + 0x118
)

const (
	// PgmDataRegisters is the size of the programming data window.
	PgmDataRegisters = 8

	WriteOpCode = 0x5A5A
	ReadOpCode  = 0x5AA5

	CmdRead = 0x1
	CmdPgm  = 0x2

	// StatusIdle is the value of the low three status bits when the controller
	// accepts a new command.
	StatusIdle = 0x1
	StatusMask = 0x7

	PwrOffNumMask = 0xFFFF
	PwrOffNum     = 0x190

	// ReadCmdDelay lets the ROM loader finish its own register checks after a
	// read command.
	ReadCmdDelay = time.Millisecond

	BurnTimeout = 250 * time.Millisecond

	// BurnUnit is the number of payload bytes transferred per block burn.
	BurnUnit = PgmDataRegisters * 4

	// SecureDownloadFlag is the GET_SECURITY_INFO bit set in secure download mode.
	SecureDownloadFlag = 1 << 2
)

// CrystalFrequency is the only crystal the programming timing is computed for.
const CrystalFrequency = 40 * physic.MegaHertz

// Package status derives the effective runtime status and warning codes for
// a master and its members, as a pure function of operator intent and live
// connection state. Nothing in this package performs I/O; callers own
// reading inputs and persisting outputs.
package status

import "sort"

// ConnectionStatus mirrors a connection tracker record's coarse state.
type ConnectionStatus int

const (
	ConnNone ConnectionStatus = iota
	ConnOnline
	ConnTimeout
	ConnOffline
)

// Numeric status levels shared by masters and members.
const (
	StatusDisabled           = 0
	StatusEnabledNotConnected = 1
	StatusConnected           = 2
)

// Warning codes. The order the engine emits them in is fixed by warningRank.
const (
	WarnMasterWebUiDisabled      = "MasterWebUiDisabled"
	WarnMasterOffline            = "MasterOffline"
	WarnMasterAutoTradingDisabled = "MasterAutoTradingDisabled"
	WarnSlaveWebUiDisabled       = "SlaveWebUiDisabled"
	WarnSlaveOffline             = "SlaveOffline"
	WarnSlaveAutoTradingDisabled = "SlaveAutoTradingDisabled"
)

// warningRank fixes the emission order: master warnings first, then slave
// warnings, each group ordered by descending severity. The engine sorts its
// output by this rank so equal inputs always produce byte-equal lists.
var warningRank = map[string]int{
	WarnMasterOffline:             0,
	WarnMasterAutoTradingDisabled: 1,
	WarnMasterWebUiDisabled:       2,
	WarnSlaveOffline:              3,
	WarnSlaveAutoTradingDisabled:  4,
	WarnSlaveWebUiDisabled:        5,
}

func sortWarnings(codes []string) []string {
	sort.SliceStable(codes, func(i, j int) bool {
		return warningRank[codes[i]] < warningRank[codes[j]]
	})
	return codes
}

// MasterIntent is the operator-controlled input for a master.
type MasterIntent struct {
	WebUIEnabled bool
}

// SlaveIntent is the operator-controlled input for a member.
type SlaveIntent struct {
	WebUIEnabled bool
}

// ConnectionSnapshot is the live-connection input for either a master or a
// member.
type ConnectionSnapshot struct {
	ConnectionStatus ConnectionStatus
	IsTradeAllowed   bool
}

// MasterStatusResult is the status engine's output for a master.
type MasterStatusResult struct {
	Status       int
	WarningCodes []string
}

// MemberStatusResult is the status engine's output for a member.
type MemberStatusResult struct {
	Status       int
	WarningCodes []string
}

// EvaluateMaster applies the master rules in order, accumulating warning
// codes, and returns the sorted result.
func EvaluateMaster(intent MasterIntent, conn ConnectionSnapshot) MasterStatusResult {
	var warnings []string

	if !intent.WebUIEnabled {
		warnings = append(warnings, WarnMasterWebUiDisabled)
	}

	if conn.ConnectionStatus == ConnNone || conn.ConnectionStatus == ConnOffline || conn.ConnectionStatus == ConnTimeout {
		warnings = append(warnings, WarnMasterOffline)
		status := StatusEnabledNotConnected
		if !intent.WebUIEnabled {
			status = StatusDisabled
		}
		return MasterStatusResult{Status: status, WarningCodes: sortWarnings(warnings)}
	}

	if !conn.IsTradeAllowed {
		warnings = append(warnings, WarnMasterAutoTradingDisabled)
		return MasterStatusResult{Status: StatusEnabledNotConnected, WarningCodes: sortWarnings(warnings)}
	}

	return MasterStatusResult{Status: StatusConnected, WarningCodes: sortWarnings(warnings)}
}

// EvaluateMember applies the member rules in order, given the already
// computed master result.
func EvaluateMember(intent SlaveIntent, conn ConnectionSnapshot, master MasterStatusResult) MemberStatusResult {
	if !intent.WebUIEnabled {
		return MemberStatusResult{Status: StatusDisabled, WarningCodes: sortWarnings([]string{WarnSlaveWebUiDisabled})}
	}

	if conn.ConnectionStatus != ConnOnline {
		return MemberStatusResult{Status: StatusEnabledNotConnected, WarningCodes: sortWarnings([]string{WarnSlaveOffline})}
	}

	if !conn.IsTradeAllowed {
		return MemberStatusResult{Status: StatusDisabled, WarningCodes: sortWarnings([]string{WarnSlaveAutoTradingDisabled})}
	}

	if master.Status < StatusConnected {
		warnings := make([]string, len(master.WarningCodes))
		copy(warnings, master.WarningCodes)
		return MemberStatusResult{Status: StatusEnabledNotConnected, WarningCodes: sortWarnings(warnings)}
	}

	return MemberStatusResult{Status: StatusConnected, WarningCodes: sortWarnings(nil)}
}

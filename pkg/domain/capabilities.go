package domain

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capabilities is the bitset of rights granted to an account.
type Capabilities uint32

// Capability bits.
const (
	CapAdministrator Capabilities = 1 << iota
	CapManageUsers
	CapManageActivityTypes
	CapManagePublicActivities
	CapManagePublicTasks
	CapManagePrivateActivities
	CapManagePrivateTasks
	CapManageWorkloads
	CapManageBeneficiaries
	CapLogWork
	CapLogEvents
	CapGenerateReports
	CapBackupAndRestore
)

var capabilityNames = []struct {
	cap  Capabilities
	name string
}{
	{CapAdministrator, "Administrator"},
	{CapManageUsers, "ManageUsers"},
	{CapManageActivityTypes, "ManageActivityTypes"},
	{CapManagePublicActivities, "ManagePublicActivities"},
	{CapManagePublicTasks, "ManagePublicTasks"},
	{CapManagePrivateActivities, "ManagePrivateActivities"},
	{CapManagePrivateTasks, "ManagePrivateTasks"},
	{CapManageWorkloads, "ManageWorkloads"},
	{CapManageBeneficiaries, "ManageBeneficiaries"},
	{CapLogWork, "LogWork"},
	{CapLogEvents, "LogEvents"},
	{CapGenerateReports, "GenerateReports"},
	{CapBackupAndRestore, "BackupAndRestore"},
}

// AllCapabilities is the union of every defined capability bit.
const AllCapabilities = CapBackupAndRestore<<1 - 1

// Has reports whether every bit of want is granted. Administrator implies all.
func (c Capabilities) Has(want Capabilities) bool {
	if c&CapAdministrator != 0 {
		return true
	}
	return c&want == want
}

// Count returns the number of granted bits.
func (c Capabilities) Count() int { return bits.OnesCount32(uint32(c)) }

// String renders the set as a comma separated list of names.
func (c Capabilities) String() string {
	names := make([]string, 0, c.Count())
	for _, entry := range capabilityNames {
		if c&entry.cap != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseCapabilities parses the output of Capabilities.String.
func ParseCapabilities(s string) (Capabilities, error) {
	var out Capabilities
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for _, entry := range capabilityNames {
			if entry.name == part {
				out |= entry.cap
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability %q", part)
		}
	}
	return out, nil
}

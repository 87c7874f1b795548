package session

import "worktally/pkg/domain"

// subject is the entity an access decision is about. owned is false for
// entities no user owns.
type subject struct {
	kind  domain.Kind
	oid   domain.OID
	owner domain.OID
	owned bool
}

func (g Grant) admin() bool { return g.Capabilities&domain.CapAdministrator != 0 }

func (g Grant) owns(s subject) bool {
	return g.Class == ClassNormal && s.owned && s.owner == g.User
}

func (g Grant) canRead(s subject) bool {
	if g.Class != ClassNormal {
		return true
	}
	switch s.kind {
	case domain.KindUser, domain.KindAccount:
		return g.owns(s) || g.Capabilities.Has(domain.CapManageUsers)
	case domain.KindPrivateActivity:
		return g.owns(s) || g.Capabilities.Has(domain.CapManagePrivateActivities)
	case domain.KindPrivateTask:
		return g.owns(s) || g.Capabilities.Has(domain.CapManagePrivateTasks)
	case domain.KindWork, domain.KindEvent:
		return g.owns(s) || g.Capabilities.Has(domain.CapGenerateReports)
	default:
		return true
	}
}

func (g Grant) canModify(s subject) bool {
	switch g.Class {
	case ClassRestore:
		return true
	case ClassBackup, ClassReport:
		return false
	}
	caps := g.Capabilities
	switch s.kind {
	case domain.KindUser, domain.KindAccount:
		return caps.Has(domain.CapManageUsers)
	case domain.KindActivityType:
		return caps.Has(domain.CapManageActivityTypes)
	case domain.KindPublicActivity:
		return caps.Has(domain.CapManagePublicActivities)
	case domain.KindPublicTask:
		return caps.Has(domain.CapManagePublicTasks)
	case domain.KindPrivateActivity:
		return g.owns(s) || caps.Has(domain.CapManagePrivateActivities)
	case domain.KindPrivateTask:
		return g.owns(s) || caps.Has(domain.CapManagePrivateTasks)
	case domain.KindProject, domain.KindWorkStream:
		return caps.Has(domain.CapManageWorkloads)
	case domain.KindBeneficiary:
		return caps.Has(domain.CapManageBeneficiaries)
	case domain.KindWork:
		return g.admin() || g.owns(s) && caps.Has(domain.CapLogWork)
	case domain.KindEvent:
		return g.admin() || g.owns(s) && caps.Has(domain.CapLogEvents)
	default:
		return false
	}
}

// canDestroy follows the modify rules.
func (g Grant) canDestroy(s subject) bool { return g.canModify(s) }

// canChangeOwnPassword lets an account holder replace its own password hash
// without ManageUsers.
func (g Grant) canChangeOwnPassword(s subject, before, after domain.Properties) bool {
	if g.Class != ClassNormal || s.kind != domain.KindAccount || s.oid != g.Account {
		return false
	}
	masked := after
	masked.PasswordHash = before.PasswordHash
	return masked.Equal(before)
}

func (g Grant) canBackup() bool {
	return g.Class == ClassBackup || g.Class == ClassRestore || g.Capabilities.Has(domain.CapBackupAndRestore)
}

func (g Grant) canRestore() bool { return g.Class == ClassRestore }

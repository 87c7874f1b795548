package session

import (
	"testing"

	"worktally/pkg/domain"
)

func TestGrantRules(t *testing.T) {
	const me, other domain.OID = 1, 9
	mine := func(kind domain.Kind) subject { return subject{kind: kind, owner: me, owned: true} }
	theirs := func(kind domain.Kind) subject { return subject{kind: kind, owner: other, owned: true} }
	public := func(kind domain.Kind) subject { return subject{kind: kind} }
	normal := func(caps domain.Capabilities) Grant { return Grant{Class: ClassNormal, User: me, Capabilities: caps} }

	cases := []struct {
		name   string
		grant  Grant
		subj   subject
		read   bool
		modify bool
	}{
		{"own user", normal(0), mine(domain.KindUser), true, false},
		{"other user", normal(0), theirs(domain.KindUser), false, false},
		{"user manager", normal(domain.CapManageUsers), theirs(domain.KindAccount), true, true},
		{"own private activity", normal(0), mine(domain.KindPrivateActivity), true, true},
		{"other private task", normal(domain.CapManagePrivateActivities), theirs(domain.KindPrivateTask), false, false},
		{"private task manager", normal(domain.CapManagePrivateTasks), theirs(domain.KindPrivateTask), true, true},
		{"own work without LogWork", normal(0), mine(domain.KindWork), true, false},
		{"own work", normal(domain.CapLogWork), mine(domain.KindWork), true, true},
		{"other work with reports", normal(domain.CapGenerateReports | domain.CapLogWork), theirs(domain.KindWork), true, false},
		{"own event", normal(domain.CapLogEvents), mine(domain.KindEvent), true, true},
		{"project", normal(0), public(domain.KindProject), true, false},
		{"workload manager", normal(domain.CapManageWorkloads), public(domain.KindWorkStream), true, true},
		{"beneficiary manager", normal(domain.CapManageBeneficiaries), public(domain.KindBeneficiary), true, true},
		{"activity type manager", normal(domain.CapManageActivityTypes), public(domain.KindActivityType), true, true},
		{"public activity", normal(domain.CapManagePublicTasks), public(domain.KindPublicActivity), true, false},
		{"public task manager", normal(domain.CapManagePublicTasks), public(domain.KindPublicTask), true, true},
		{"administrator", normal(domain.CapAdministrator), theirs(domain.KindWork), true, true},
		{"backup", Grant{Class: ClassBackup}, theirs(domain.KindWork), true, false},
		{"report", Grant{Class: ClassReport}, public(domain.KindProject), true, false},
		{"restore", Grant{Class: ClassRestore}, theirs(domain.KindAccount), true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.grant.canRead(tc.subj); got != tc.read {
				t.Errorf("canRead = %v, want %v", got, tc.read)
			}
			if got := tc.grant.canModify(tc.subj); got != tc.modify {
				t.Errorf("canModify = %v, want %v", got, tc.modify)
			}
			if got := tc.grant.canDestroy(tc.subj); got != tc.modify {
				t.Errorf("canDestroy = %v, want %v", got, tc.modify)
			}
		})
	}
}

func TestOwnPasswordChange(t *testing.T) {
	g := Grant{Class: ClassNormal, Account: 2, User: 1}
	acct := subject{kind: domain.KindAccount, oid: 2, owner: 1, owned: true}
	before := domain.Properties{Credential: domain.Credential{Login: "ann", PasswordHash: "A"}, Enabled: true}

	after := before
	after.PasswordHash = "B"
	if !g.canChangeOwnPassword(acct, before, after) {
		t.Fatalf("password-only change on own account must pass")
	}
	after.Login = "bob"
	if g.canChangeOwnPassword(acct, before, after) {
		t.Fatalf("login change must not pass")
	}
	other := acct
	other.oid = 3
	if g.canChangeOwnPassword(other, before, before) {
		t.Fatalf("another account must not pass")
	}
}

func TestCredentialClassesNeedConstructors(t *testing.T) {
	var zero Credentials
	if zero.Class() != ClassNormal {
		t.Fatalf("zero credentials must be normal")
	}
	for want, c := range map[Class]Credentials{
		ClassRestore: RestoreCredentials(),
		ClassBackup:  BackupCredentials(),
		ClassReport:  ReportCredentials(),
		ClassNormal:  NewCredentials("ann", "pw"),
	} {
		if c.Class() != want {
			t.Errorf("%s credentials report %s", want, c.Class())
		}
	}
}

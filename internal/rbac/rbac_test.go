package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "creator serve", role: RoleCreator, action: ActionServe, allow: true},
		{name: "creator cancel", role: RoleCreator, action: ActionCancel, allow: true},
		{name: "creator accept", role: RoleCreator, action: ActionAccept, allow: false},
		{name: "partner accept", role: RolePartner, action: ActionAccept, allow: true},
		{name: "partner cancel", role: RolePartner, action: ActionCancel, allow: false},
		{name: "partner serve", role: RolePartner, action: ActionServe, allow: false},
		{name: "partner evidence", role: RolePartner, action: Action("submitEvidence"), allow: true},
		{name: "creator settlement", role: RoleCreator, action: Action("requestSettlement"), allow: true},
		{name: "unknown role", role: Role("judge"), action: Action("dismiss"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

package model

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"learner", RoleLearner, false},
		{"Instructor", RoleInstructor, false},
		{" learner ", RoleLearner, false},
		{"admin", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRole(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestNewProfileFromIdentity(t *testing.T) {
	tests := []struct {
		name     string
		ident    Identity
		fallback Role
		wantName string
		wantRole Role
	}{
		{
			name:     "full_name и роль из метаданных",
			ident:    Identity{ID: "u1", Email: "a@b.c", Metadata: IdentityMetadata{FullName: "Анна", Name: "anna", Role: "instructor"}},
			fallback: RoleLearner,
			wantName: "Анна",
			wantRole: RoleInstructor,
		},
		{
			name:     "name, если full_name пуст",
			ident:    Identity{ID: "u2", Metadata: IdentityMetadata{Name: "Борис"}},
			fallback: RoleInstructor,
			wantName: "Борис",
			wantRole: RoleInstructor,
		},
		{
			name:     "недопустимая роль и пустой fallback",
			ident:    Identity{ID: "u3", Metadata: IdentityMetadata{Role: "root"}},
			fallback: "",
			wantName: "",
			wantRole: RoleLearner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProfileFromIdentity(tt.ident, tt.fallback)
			if p.ID != tt.ident.ID {
				t.Errorf("ID = %q, ожидался %q", p.ID, tt.ident.ID)
			}
			if p.Points != 0 {
				t.Errorf("Points = %d, ожидался 0", p.Points)
			}
			if p.Role != tt.wantRole {
				t.Errorf("Role = %q, ожидалась %q", p.Role, tt.wantRole)
			}
			gotName := ""
			if p.FullName != nil {
				gotName = *p.FullName
			}
			if gotName != tt.wantName {
				t.Errorf("FullName = %q, ожидалось %q", gotName, tt.wantName)
			}
		})
	}
}

func TestNewProfileFromIdentity_Avatar(t *testing.T) {
	ident := Identity{ID: "u1", Metadata: IdentityMetadata{AvatarURL: "https://cdn/a.png"}}
	p := NewProfileFromIdentity(ident, RoleLearner)
	if p.AvatarURL == nil || *p.AvatarURL != "https://cdn/a.png" {
		t.Errorf("AvatarURL = %v, ожидалась ссылка из метаданных", p.AvatarURL)
	}
}

package models

import "testing"

func TestConversationTurn_Validate(t *testing.T) {
	tests := []struct {
		name    string
		turn    ConversationTurn
		wantErr bool
	}{
		{"user", ConversationTurn{Role: RoleUser, Content: "hi"}, false},
		{"assistant", ConversationTurn{Role: RoleAssistant, Content: "hello"}, false},
		{"system rejected", ConversationTurn{Role: "system", Content: "x"}, true},
		{"empty role", ConversationTurn{Content: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

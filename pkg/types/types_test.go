package types

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functional Validation Tests - Status

func TestStatus_ActiveAndTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusPending, true, false},
		{StatusInProgress, true, false},
		{StatusDeclined, false, true},
		{StatusCompleted, false, true},
		{StatusCancelled, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

// Functional Validation Tests - Validation helpers

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{"object id", "64b7f0c2a1d3e4f5a6b7c8d9", true},
		{"underscore and hyphen", "child_1-a", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 51), false},
		{"space", "child 1", false},
		{"dot", "child.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUserID(tt.userID))
		})
	}
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, IsValidRequestID(uuid.NewString()))
	assert.False(t, IsValidRequestID("not-a-uuid"))
	assert.False(t, IsValidRequestID(""))
}

func TestNormalizeDescription(t *testing.T) {
	got, err := NormalizeDescription("   ")
	require.NoError(t, err)
	assert.Equal(t, DefaultDescription, got)

	got, err = NormalizeDescription("  needs help with /r/ sounds ")
	require.NoError(t, err)
	assert.Equal(t, "needs help with /r/ sounds", got)

	_, err = NormalizeDescription(strings.Repeat("é", MaxDescriptionLength))
	assert.NoError(t, err, "limit counts runes, not bytes")

	_, err = NormalizeDescription(strings.Repeat("a", MaxDescriptionLength+1))
	assert.ErrorIs(t, err, ErrDescriptionTooLong)

	_, err = NormalizeDescription("bad \xff\xfe bytes")
	assert.ErrorIs(t, err, ErrDescriptionEncoding)
}

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr error
	}{
		{"valid child", User{ID: "child1", Role: RoleChild, Name: "Ada"}, nil},
		{"bad id", User{ID: "child 1", Role: RoleChild, Name: "Ada"}, ErrInvalidUserID},
		{"bad role", User{ID: "child1", Role: "student", Name: "Ada"}, ErrInvalidRole},
		{"missing name", User{ID: "child1", Role: RoleChild}, ErrInvalidUserName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegisterPayload_Validate(t *testing.T) {
	assert.NoError(t, (&RegisterPayload{UserID: "t1", Role: RoleTherapist}).Validate())
	assert.ErrorIs(t, (&RegisterPayload{UserID: "t1"}).Validate(), ErrInvalidRegistration)
	assert.ErrorIs(t, (&RegisterPayload{UserID: "t 1", Role: RoleTherapist}).Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, (&RegisterPayload{UserID: "t1", Role: "guest"}).Validate(), ErrInvalidRole)
}

// Technical Validation Tests - Wire format

func TestEvent_WireFormat(t *testing.T) {
	event := NewEvent(EventSessionRequestDeleted, RequestDeletedPayload{RequestID: "r1"})

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EventSessionRequestDeleted, decoded["type"])
	assert.Equal(t, map[string]interface{}{"request_id": "r1"}, decoded["data"])
	assert.Contains(t, decoded, "timestamp")
}

func TestRecipientPolicies(t *testing.T) {
	assert.Equal(t, RecipientPolicy{Kind: PolicySingleUser, UserID: "c1"}, SingleUser("c1"))
	assert.Equal(t, RecipientPolicy{Kind: PolicyAllOfRole, Role: RoleTherapist}, AllOfRole(RoleTherapist))
	assert.Equal(t, "t1", AllOfRoleExcept(RoleTherapist, "t1").Except)
}

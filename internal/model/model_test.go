package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"", KindText, true},
		{" Todo ", KindTodo, true},
		{"VIDEO", KindVideo, true},
		{"reminder", KindReminder, true},
		{"all", KindAll, true},
		{"note", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseKind(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParseKind(%q)", tt.in)
	}
	assert.NotContains(t, Kinds(), KindAll)
}

func TestSchedule_JoinNeedsBothParts(t *testing.T) {
	assert.Nil(t, JoinSchedule("2025-03-01", ""))
	assert.Nil(t, JoinSchedule("", "09:30"))

	s := JoinSchedule(" 2025-03-01", "09:30 ")
	require.NotNil(t, s)
	assert.Equal(t, "2025-03-01T09:30", *s)

	date, clock := SplitSchedule(s)
	assert.Equal(t, "2025-03-01", date)
	assert.Equal(t, "09:30", clock)

	date, clock = SplitSchedule(nil)
	assert.Empty(t, date)
	assert.Empty(t, clock)
}

func TestParseSchedule(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)

	got, err := ParseSchedule("2025-03-01T09:30", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, loc)))

	got, err = ParseSchedule("2025-03-01T09:30:15", loc)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Second())

	_, err = ParseSchedule("tomorrow", loc)
	assert.Error(t, err)
}

func TestItem_IsOverdue(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := "2025-03-01T11:59"
	future := "2025-03-02T08:00"
	bad := "soon"

	assert.True(t, Item{Schedule: &past}.IsOverdue(now))
	assert.False(t, Item{Schedule: &past, IsCompleted: true}.IsOverdue(now))
	assert.False(t, Item{Schedule: &future}.IsOverdue(now))
	assert.False(t, Item{Schedule: &bad}.IsOverdue(now))
	assert.False(t, Item{}.IsOverdue(now))
}

func TestSameIDAndPointers(t *testing.T) {
	a, b := "x", "x"
	assert.True(t, SameID(nil, nil))
	assert.True(t, SameID(&a, &b))
	assert.False(t, SameID(&a, nil))
	assert.False(t, SameID(nil, &b))

	assert.Nil(t, StrPtr(""))
	assert.Equal(t, "x", Deref(StrPtr("x")))
	assert.Empty(t, Deref(nil))
}

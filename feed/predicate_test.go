package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemEvent(op Operation, listID string) ChangeEvent {
	return ChangeEvent{
		Table:     TableListItems,
		Operation: op,
		Row:       RowSnapshot{ID: "i1", ListID: listID, Name: "Milk"},
		ActorID:   "u2",
	}
}

func TestListPredicate_MatchesOnlyItsList(t *testing.T) {
	p := ListPredicate("abc")
	assert.Equal(t, "list_items:abc", p.Channel)
	assert.True(t, p.AllEvents())

	m, err := p.Compile()
	require.NoError(t, err)

	for _, op := range AllOperations {
		assert.True(t, m.Match(itemEvent(op, "abc")), "op %s", op)
		assert.False(t, m.Match(itemEvent(op, "xyz")), "op %s", op)
	}
}

func TestGlobalPredicate_InsertAndUpdateOnly(t *testing.T) {
	p := GlobalPredicate()
	assert.Equal(t, "list_items_notifications", p.Channel)
	assert.False(t, p.AllEvents())

	m, err := p.Compile()
	require.NoError(t, err)

	assert.True(t, m.Match(itemEvent(OpInsert, "any")))
	assert.True(t, m.Match(itemEvent(OpUpdate, "other")))
	assert.False(t, m.Match(itemEvent(OpDelete, "any")))
}

func TestPredicate_TableGlob(t *testing.T) {
	m, err := Predicate{Table: "list_*"}.Compile()
	require.NoError(t, err)
	assert.True(t, m.Match(itemEvent(OpInsert, "a")))

	other := itemEvent(OpInsert, "a")
	other.Table = "trips"
	assert.False(t, m.Match(other))

	_, err = Predicate{Table: "[unclosed"}.Compile()
	assert.Error(t, err)
}

func TestPredicate_EmptyMatchesEverything(t *testing.T) {
	m, err := Predicate{}.Compile()
	require.NoError(t, err)

	ev := itemEvent(OpDelete, "z")
	ev.Table = "anything"
	assert.True(t, m.Match(ev))
}

func TestPredicate_String(t *testing.T) {
	assert.Equal(t, "{event: *, table: list_items, filter: list_id = abc}", ListPredicate("abc").String())
	assert.Equal(t, "{event: insert|update, table: list_items}", GlobalPredicate().String())
}

func TestOperation_ParseAndString(t *testing.T) {
	for _, op := range AllOperations {
		parsed, err := ParseOperation(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}
	_, err := ParseOperation("upsert")
	assert.Error(t, err)
	assert.Equal(t, "op(9)", Operation(9).String())
}

func TestChangeEvent_CloneDoesNotShareOld(t *testing.T) {
	ev := itemEvent(OpUpdate, "abc")
	ev.Old = &RowSnapshot{ListID: "abc", IsChecked: false}

	cp := ev.Clone()
	cp.Old.IsChecked = true

	assert.False(t, ev.Old.IsChecked)
}

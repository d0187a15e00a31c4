package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopwise/listsync/feed"
)

// OpType is one kind of generated change
type OpType int

const (
	OpInsert OpType = iota
	OpCheck         // update flipping is_checked false -> true
	OpUpdate        // rename or uncheck
	OpDelete
)

func (o OpType) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpCheck:
		return "check"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

var groceries = []string{
	"Milk", "Eggs", "Bread", "Butter", "Apples", "Bananas", "Coffee", "Rice",
	"Pasta", "Tomatoes", "Cheese", "Yogurt", "Onions", "Chicken", "Spinach",
}

// Workload produces a stream of change events that is consistent with
// itself: updates and deletes only target rows it inserted earlier.
type Workload struct {
	cfg  *Config
	rng  *rand.Rand
	rows map[string]feed.RowSnapshot
	ids  []string
}

// NewWorkload creates a workload from a validated config
func NewWorkload(cfg *Config) *Workload {
	return &Workload{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		rows: make(map[string]feed.RowSnapshot),
	}
}

// SelectOp picks the next operation by the configured percentages
func (w *Workload) SelectOp() OpType {
	if len(w.ids) == 0 {
		return OpInsert
	}

	r := w.rng.Intn(100)
	switch {
	case r < w.cfg.InsertPct:
		return OpInsert
	case r < w.cfg.InsertPct+w.cfg.CheckPct:
		return OpCheck
	case r < w.cfg.InsertPct+w.cfg.CheckPct+w.cfg.UpdatePct:
		return OpUpdate
	default:
		return OpDelete
	}
}

// Next returns the next change event
func (w *Workload) Next() (OpType, feed.ChangeEvent) {
	op := w.SelectOp()
	actor := w.cfg.actorIDs[w.rng.Intn(len(w.cfg.actorIDs))]

	switch op {
	case OpInsert:
		row := feed.RowSnapshot{
			ID:             uuid.NewString(),
			ListID:         w.cfg.listIDs[w.rng.Intn(len(w.cfg.listIDs))],
			Name:           groceries[w.rng.Intn(len(groceries))],
			LastModifiedBy: actor,
		}
		w.rows[row.ID] = row
		w.ids = append(w.ids, row.ID)
		return op, w.event(feed.OpInsert, row, nil, actor)

	case OpCheck, OpUpdate:
		old := w.rows[w.ids[w.rng.Intn(len(w.ids))]]
		row := old
		row.LastModifiedBy = actor
		if op == OpCheck {
			row.IsChecked = true
		} else if old.IsChecked {
			row.IsChecked = false
		} else {
			row.Name = fmt.Sprintf("%s x%d", groceries[w.rng.Intn(len(groceries))], w.rng.Intn(5)+2)
		}
		w.rows[row.ID] = row
		return op, w.event(feed.OpUpdate, row, &old, actor)

	default:
		i := w.rng.Intn(len(w.ids))
		id := w.ids[i]
		row := w.rows[id]
		w.ids[i] = w.ids[len(w.ids)-1]
		w.ids = w.ids[:len(w.ids)-1]
		delete(w.rows, id)
		return op, w.event(feed.OpDelete, row, &row, actor)
	}
}

func (w *Workload) event(op feed.Operation, row feed.RowSnapshot, old *feed.RowSnapshot, actor string) feed.ChangeEvent {
	ev := feed.ChangeEvent{
		Table:     feed.TableListItems,
		Operation: op,
		Row:       row,
		ActorID:   actor,
		CommitTS:  time.Now().UnixMilli(),
	}
	if old != nil {
		o := *old
		ev.Old = &o
	}
	return ev
}

// Live returns the number of rows currently alive
func (w *Workload) Live() int {
	return len(w.ids)
}

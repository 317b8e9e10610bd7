// Package workbook edits spreadsheet snapshots in the workbook JSON shape
// used by the spreadsheet client:
//
//	{"id": ..., "sheetOrder": [...], "sheets": {sheetID: {"cellData": {row: {col: {"v": value}}}}}}
//
// Fields the relay does not understand are carried through untouched.
package workbook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Default sheet geometry for a workbook the relay has to invent.
const (
	DefaultSheetID     = "sheet-01"
	DefaultSheetName   = "Sheet1"
	DefaultRowCount    = 50
	DefaultColumnCount = 26
)

// ErrNotObject is returned when a snapshot is not a JSON object.
var ErrNotObject = errors.New("workbook: snapshot is not a JSON object")

// Workbook is a decoded snapshot.
type Workbook struct {
	root map[string]any
}

// Default returns an empty single-sheet workbook.
func Default(id string) *Workbook {
	return &Workbook{root: map[string]any{
		"id":         id,
		"sheetOrder": []any{DefaultSheetID},
		"sheets": map[string]any{
			DefaultSheetID: map[string]any{
				"id":          DefaultSheetID,
				"name":        DefaultSheetName,
				"rowCount":    json.Number(strconv.Itoa(DefaultRowCount)),
				"columnCount": json.Number(strconv.Itoa(DefaultColumnCount)),
				"cellData":    map[string]any{},
			},
		},
	}}
}

// Parse decodes a snapshot. Numbers keep their textual form.
func Parse(raw []byte) (*Workbook, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("workbook: decode: %w", err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return &Workbook{root: root}, nil
}

// MarshalJSON encodes the workbook.
func (w *Workbook) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.root)
}

// Bytes encodes the workbook, falling back to an empty object on error.
func (w *Workbook) Bytes() json.RawMessage {
	b, err := json.Marshal(w.root)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// SetCell writes value into the "v" field of one cell and returns the id
// of the sheet it landed on. A null or absent value removes "v". When
// sheetID is empty the first sheet of sheetOrder is used, then the first
// sheet by id; if the workbook has no sheet one is created.
func (w *Workbook) SetCell(sheetID string, row, column int, value json.RawMessage) (string, error) {
	if row < 0 || column < 0 {
		return "", fmt.Errorf("workbook: negative cell coordinate (%d, %d)", row, column)
	}
	var v any
	remove := len(bytes.TrimSpace(value)) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null"))
	if !remove {
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return "", fmt.Errorf("workbook: decode cell value: %w", err)
		}
	}

	id, sheet := w.resolveSheet(sheetID)
	cellData := childMap(sheet, "cellData", !remove)
	rowKey, colKey := strconv.Itoa(row), strconv.Itoa(column)

	if remove {
		if cellData == nil {
			return id, nil
		}
		rowMap, _ := cellData[rowKey].(map[string]any)
		if rowMap == nil {
			return id, nil
		}
		if cell, ok := rowMap[colKey].(map[string]any); ok {
			delete(cell, "v")
			if len(cell) == 0 {
				delete(rowMap, colKey)
			}
		}
		if len(rowMap) == 0 {
			delete(cellData, rowKey)
		}
		return id, nil
	}

	rowMap := childMap(cellData, rowKey, true)
	cell := childMap(rowMap, colKey, true)
	cell["v"] = v
	return id, nil
}

// Cell returns the "v" value of one cell.
func (w *Workbook) Cell(sheetID string, row, column int) (any, bool) {
	sheets, _ := w.root["sheets"].(map[string]any)
	sheet, _ := sheets[sheetID].(map[string]any)
	cellData, _ := sheet["cellData"].(map[string]any)
	rowMap, _ := cellData[strconv.Itoa(row)].(map[string]any)
	cell, _ := rowMap[strconv.Itoa(column)].(map[string]any)
	v, ok := cell["v"]
	return v, ok
}

// SheetIDs returns the ids in sheetOrder followed by any other sheets in
// id order.
func (w *Workbook) SheetIDs() []string {
	sheets, _ := w.root["sheets"].(map[string]any)
	seen := make(map[string]bool, len(sheets))
	var out []string
	order, _ := w.root["sheetOrder"].([]any)
	for _, o := range order {
		id, ok := o.(string)
		if !ok || seen[id] {
			continue
		}
		if _, ok := sheets[id].(map[string]any); ok {
			seen[id] = true
			out = append(out, id)
		}
	}
	var rest []string
	for id, s := range sheets {
		if _, ok := s.(map[string]any); ok && !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (w *Workbook) resolveSheet(sheetID string) (string, map[string]any) {
	sheets := childMap(w.root, "sheets", true)
	if sheetID != "" {
		if s, ok := sheets[sheetID].(map[string]any); ok {
			return sheetID, s
		}
		return sheetID, w.addSheet(sheets, sheetID)
	}
	if ids := w.SheetIDs(); len(ids) > 0 {
		return ids[0], sheets[ids[0]].(map[string]any)
	}
	return DefaultSheetID, w.addSheet(sheets, DefaultSheetID)
}

func (w *Workbook) addSheet(sheets map[string]any, id string) map[string]any {
	s := map[string]any{
		"id":       id,
		"name":     "Sheet" + strconv.Itoa(len(sheets)+1),
		"cellData": map[string]any{},
	}
	sheets[id] = s
	order, _ := w.root["sheetOrder"].([]any)
	w.root["sheetOrder"] = append(order, id)
	return s
}

// childMap returns parent[key] as an object, creating or replacing it
// when create is set.
func childMap(parent map[string]any, key string, create bool) map[string]any {
	if parent == nil {
		return nil
	}
	if m, ok := parent[key].(map[string]any); ok {
		return m
	}
	if !create {
		return nil
	}
	m := make(map[string]any)
	parent[key] = m
	return m
}

package collections

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldsFilter is type_name -> set of admitted attribute keys, used when
// rendering to json:api. A key ending in "." admits the whole one-level
// sub-object named by the key with the dot stripped, rather than a single
// scalar attribute.
type FieldsFilter map[string]map[string]bool

func (f FieldsFilter) apply(typeName string, attrs map[string]any) map[string]any {
	if f == nil {
		return attrs
	}
	allowed, ok := f[typeName]
	if !ok {
		return attrs
	}
	out := make(map[string]any, len(allowed))
	for key := range allowed {
		if strings.HasSuffix(key, ".") {
			base := strings.TrimSuffix(key, ".")
			if v, ok := attrs[base]; ok {
				out[base] = v
			}
			continue
		}
		if v, ok := attrs[key]; ok {
			out[key] = v
		}
	}
	return out
}

// resource is one json:api "data" entry.
type resource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

func (c *Collection) render(id string, rec *record, filter FieldsFilter) resource {
	attrs := rec.item.Attributes()
	out := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}
	out["created"] = rec.createdAt.UTC().Format(time.RFC3339)
	if !rec.updatedAt.Equal(rec.createdAt) {
		out["updated"] = rec.updatedAt.UTC().Format(time.RFC3339)
	}
	return resource{
		Type:       rec.item.TypeName(),
		ID:         id,
		Attributes: filter.apply(rec.item.TypeName(), out),
	}
}

type collectionMeta struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pending *int `json:"pending,omitempty"`
}

type envelopeMeta struct {
	Collection collectionMeta `json:"collection"`
}

type envelope struct {
	Data []resource   `json:"data"`
	Meta envelopeMeta `json:"meta"`
}

// ToJSONAPI renders the collection as {data:[...], meta:{collection:{...}}}.
// offset/limit page the FIFO-ordered item list; pending, if non-nil, is
// surfaced in meta (used by the discovery POST endpoint to report an
// in-flight collector cycle's partial progress).
func (c *Collection) ToJSONAPI(offset, limit int, filter FieldsFilter, pending *int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshotLocked()
	total := len(snap)
	page := paginate(snap, offset, limit)

	data := make([]resource, 0, len(page))
	for _, e := range page {
		data = append(data, c.render(e.id, e.rec, filter))
	}
	env := envelope{
		Data: data,
		Meta: envelopeMeta{Collection: collectionMeta{Offset: offset, Limit: limit, Total: total, Pending: pending}},
	}
	return json.Marshal(env)
}

// ToJSONAPIItem renders a single item, or ("", false) if missing.
func (c *Collection) ToJSONAPIItem(id string, filter FieldsFilter) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.items[id]
	if !ok {
		return "", false
	}
	res := c.render(id, rec, filter)
	b, err := json.Marshal(struct {
		Data resource `json:"data"`
	}{Data: res})
	if err != nil {
		return "", false
	}
	return string(b), true
}

// ToPlainJSON renders the same content as ToJSONAPI without the json:api
// envelope: a flat array of {id, ...attributes}.
func (c *Collection) ToPlainJSON(offset, limit int, filter FieldsFilter) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshotLocked()
	page := paginate(snap, offset, limit)

	out := make([]map[string]any, 0, len(page))
	for _, e := range page {
		res := c.render(e.id, e.rec, filter)
		flat := make(map[string]any, len(res.Attributes)+1)
		for k, v := range res.Attributes {
			flat[k] = v
		}
		flat["id"] = e.id
		out = append(out, flat)
	}
	return json.Marshal(out)
}

func paginate(snap []struct {
	id  string
	rec *record
}, offset, limit int) []struct {
	id  string
	rec *record
} {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(snap) {
		return nil
	}
	end := len(snap)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return snap[offset:end]
}

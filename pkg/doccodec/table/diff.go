package table

import (
	"sort"
)

// MakePatch computes the Body that transforms from into to, per
// SPEC_FULL.md §A.4.2.3: records are compared by their composite
// primary-key identity. A delete-payload for every key present only in
// from precedes an adds/updates-payload for every key present only in
// to, or present in both with at least one changed field.
func MakePatch(from, to *Document) (Body, error) {
	fromByKey := recordsByPKKey(from)
	toByKey := recordsByPKKey(to)

	keys := make([]string, 0, len(fromByKey)+len(toByKey))
	seen := map[string]bool{}
	for k := range fromByKey {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range toByKey {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var deletes, upserts []Record
	for _, k := range keys {
		fr, inFrom := fromByKey[k]
		tr, inTo := toByKey[k]
		switch {
		case inFrom && !inTo:
			deletes = append(deletes, pkFieldsOf(from.cfg, fr))
		case !inFrom && inTo:
			upserts = append(upserts, copyRecord(tr))
		default:
			diff, err := fieldDiff(from.cfg, fr, tr)
			if err != nil {
				return nil, err
			}
			if len(diff) == 0 {
				continue
			}
			for _, pk := range from.cfg.PrimaryKeys {
				if v, ok := fr[pk]; ok {
					diff[pk] = v
				}
			}
			upserts = append(upserts, diff)
		}
	}

	// A single delete-entry (batching every removed key's where-pattern)
	// precedes a single upsert-entry (batching every added/changed
	// record), per SPEC_FULL.md §A.4.2.3/§6.3.
	body := make(Body, 0, 2)
	if len(deletes) > 0 {
		body = append(body, Entry{Op: OpDelete, Payload: deletes})
	}
	if len(upserts) > 0 {
		body = append(body, Entry{Op: OpUpsert, Payload: upserts})
	}
	return body, nil
}

func pkFieldsOf(cfg Config, r Record) Record {
	out := Record{}
	for _, k := range cfg.PrimaryKeys {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// fieldDiff computes the changed fields (and only the changed fields)
// between two records with the same primary key, per the per-field
// diff rules in SPEC_FULL.md §A.4.2.3: stringCols string-to-string uses
// TextDiff, map-to-map uses the shallow merge-patch encoding, fields
// dropped from to are nulled out, everything else carries the new
// value verbatim.
func fieldDiff(cfg Config, from, to Record) (Record, error) {
	diff := Record{}
	fields := map[string]bool{}
	for k := range from {
		fields[k] = true
	}
	for k := range to {
		fields[k] = true
	}

	for field := range fields {
		fv, inFrom := from[field]
		tv, inTo := to[field]

		if !inTo {
			diff[field] = nil
			continue
		}
		if !inFrom {
			diff[field] = tv
			continue
		}
		if stableJSON(fv) == stableJSON(tv) {
			continue // unchanged
		}

		if cfg.isStringCol(field) {
			fs, fok := fv.(string)
			ts, tok := tv.(string)
			if fok && tok {
				diff[field] = tableTextDiff.Diff(fs, ts)
				continue
			}
		}

		fm, fok := fv.(map[string]interface{})
		tm, tok := tv.(map[string]interface{})
		if fok && tok {
			md, err := makeMapDiff(fm, tm)
			if err != nil {
				return nil, err
			}
			diff[field] = md
			continue
		}

		diff[field] = tv
	}
	return diff, nil
}

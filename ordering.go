/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package satsqueue

import (
	"cmp"
	"slices"

	"github.com/satsqueue/satsqueue/model"
)

// OrderEntries returns the entries in service order: highest score first, then
// earliest admission, then lowest id. The result depends only on the input set.
func OrderEntries(entries map[string]model.Entry) []model.Entry {
	ordered := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, compareEntries)
	return ordered
}

func compareEntries(a, b model.Entry) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AdmittedAt, b.AdmittedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// RecentlyServed returns archived entries, most recently served first.
func RecentlyServed(archive map[string]model.ArchivedEntry) []model.ArchivedEntry {
	served := make([]model.ArchivedEntry, 0, len(archive))
	for _, a := range archive {
		served = append(served, a)
	}
	slices.SortFunc(served, func(a, b model.ArchivedEntry) int {
		if c := cmp.Compare(b.ServedAt, a.ServedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return served
}

// BuildView projects a record for observers.
func BuildView(rec *model.QueueRecord) model.QueueView {
	return model.QueueView{
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
		Active:      rec.Active,
		TotalScore:  rec.TotalScore,
		Entries:     OrderEntries(rec.CurrentEntries),
		Served:      RecentlyServed(rec.Archive),
	}
}

func head(entries map[string]model.Entry) (model.Entry, bool) {
	var best model.Entry
	found := false
	for _, e := range entries {
		if !found || compareEntries(e, best) < 0 {
			best = e
			found = true
		}
	}
	return best, found
}

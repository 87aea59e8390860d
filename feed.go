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
	"context"

	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/model"
)

// Watch calls fn with the ordered view of a queue now and after every committed
// change, until ctx is done or the subscription is closed. Observers always get a
// full snapshot and never a partial update.
func (s *SatsQueue) Watch(ctx context.Context, name string, fn func(model.QueueView)) (ledgerstore.Subscription, error) {
	canonical, err := lookupName(name)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.Subscribe(ctx, canonical, func(rec *model.QueueRecord) {
		fn(BuildView(rec))
	})
	if err != nil {
		return nil, storeError(err, canonical)
	}
	return sub, nil
}

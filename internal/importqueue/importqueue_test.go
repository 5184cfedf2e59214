// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package importqueue_test

import (
	"testing"
	"time"

	"github.com/scmfsd/scmfsd/internal/importqueue"
	"github.com/scmfsd/scmfsd/internal/proxyhash"
	"github.com/scmfsd/scmfsd/internal/scmtypes"
	"github.com/stretchr/testify/require"
)

func id(b byte) scmtypes.ObjectId {
	raw := make([]byte, scmtypes.ObjectIdLen)
	raw[0] = b
	return scmtypes.NewObjectId(raw)
}

func TestQueue_DequeuePrefersHigherPriority(t *testing.T) {
	q := importqueue.New(map[importqueue.Kind]int{importqueue.BlobImport: 4})
	now := time.Now()

	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(1), proxyhash.ProxyHash{}, 1, "low", now))
	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(2), proxyhash.ProxyHash{}, 5, "high", now))

	batch := q.Dequeue([]importqueue.Kind{importqueue.BlobImport})
	require.Len(t, batch.Entries, 2)
	require.Equal(t, id(2), batch.Entries[0].ID)
	require.Equal(t, id(1), batch.Entries[1].ID)
}

func TestQueue_TreesBeatMetadataBeatBlobsAtEqualPriority(t *testing.T) {
	q := importqueue.New(map[importqueue.Kind]int{
		importqueue.TreeImport:     1,
		importqueue.BlobMetaImport: 1,
		importqueue.BlobImport:     1,
	})
	now := time.Now()

	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(1), proxyhash.ProxyHash{}, 1, "w1", now))
	require.NoError(t, q.Enqueue(importqueue.BlobMetaImport, id(2), proxyhash.ProxyHash{}, 1, "w2", now))
	require.NoError(t, q.Enqueue(importqueue.TreeImport, id(3), proxyhash.ProxyHash{}, 1, "w3", now))

	batch := q.Dequeue([]importqueue.Kind{importqueue.TreeImport, importqueue.BlobMetaImport, importqueue.BlobImport})
	require.Equal(t, importqueue.TreeImport, batch.Kind)
}

func TestQueue_DuplicateRequestCoalesces(t *testing.T) {
	q := importqueue.New(nil)
	now := time.Now()

	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(1), proxyhash.ProxyHash{}, 1, "w1", now))
	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(1), proxyhash.ProxyHash{}, 9, "w2", now))

	batch := q.Dequeue([]importqueue.Kind{importqueue.BlobImport})
	require.Len(t, batch.Entries, 1)
	require.Equal(t, 9, batch.Entries[0].Priority)
	require.Equal(t, []importqueue.Waiter{"w1", "w2"}, batch.Entries[0].Waiters)
}

func TestQueue_CheckInProgressAttachesWaiterBeforeEnqueue(t *testing.T) {
	q := importqueue.New(nil)
	now := time.Now()
	require.NoError(t, q.Enqueue(importqueue.TreeImport, id(1), proxyhash.ProxyHash{}, 1, "w1", now))

	found := q.CheckInProgress(importqueue.TreeImport, id(1), 5, "w2")
	require.True(t, found)

	batch := q.Dequeue([]importqueue.Kind{importqueue.TreeImport})
	require.Equal(t, 5, batch.Entries[0].Priority)
	require.Len(t, batch.Entries[0].Waiters, 2)
}

func TestQueue_MarkFinishedRemovesTracking(t *testing.T) {
	q := importqueue.New(nil)
	now := time.Now()
	require.NoError(t, q.Enqueue(importqueue.BlobImport, id(1), proxyhash.ProxyHash{}, 1, "w1", now))
	q.Dequeue([]importqueue.Kind{importqueue.BlobImport})

	waiters := q.MarkFinished(importqueue.BlobImport, id(1))
	require.Equal(t, []importqueue.Waiter{"w1"}, waiters)

	found := q.CheckInProgress(importqueue.BlobImport, id(1), 1, "w2")
	require.False(t, found)
}

func TestQueue_StopUnblocksDequeue(t *testing.T) {
	q := importqueue.New(nil)
	done := make(chan importqueue.Batch, 1)
	go func() {
		done <- q.Dequeue([]importqueue.Kind{importqueue.BlobImport})
	}()

	time.Sleep(10 * time.Millisecond)
	waiters := q.Stop()
	require.Empty(t, waiters)

	select {
	case b := <-done:
		require.Empty(t, b.Entries)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Stop")
	}
}

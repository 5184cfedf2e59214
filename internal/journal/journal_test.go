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

package journal_test

import (
	"testing"

	"github.com/scmfsd/scmfsd/clock"
	"github.com/scmfsd/scmfsd/internal/errkind"
	"github.com/scmfsd/scmfsd/internal/journal"
	"github.com/stretchr/testify/require"
)

func TestJournal_AddDeltaAssignsMonotonicSequence(t *testing.T) {
	j := journal.New(clock.RealClock{}, 1, 0)

	p1 := j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "a.txt", Status: journal.Created}}})
	p2 := j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "b.txt", Status: journal.Changed}}})

	require.Equal(t, int64(1), p1.Sequence)
	require.Equal(t, int64(2), p2.Sequence)

	latest, ok := j.Latest()
	require.True(t, ok)
	require.Equal(t, int64(2), latest.Sequence)
}

func TestJournal_AccumulateRangeMergesAndDedupes(t *testing.T) {
	j := journal.New(clock.RealClock{}, 1, 0)
	j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "a.txt", Status: journal.Created}}})
	j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "a.txt", Status: journal.Changed}, {Path: "b.txt", Status: journal.Unclean}}})

	summary, err := j.AccumulateRange(0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt"}, summary.Created)
	require.ElementsMatch(t, []string{"a.txt"}, summary.Changed)
	require.ElementsMatch(t, []string{"b.txt"}, summary.Unclean)
	require.Equal(t, int64(2), summary.To.Sequence)
}

func TestJournal_MemoryLimitTruncatesAndFlagsUnanswerableRanges(t *testing.T) {
	j := journal.New(clock.RealClock{}, 1, 1) // force eviction after every append

	for i := 0; i < 20; i++ {
		j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "file.txt", Status: journal.Changed}}})
	}

	_, err := j.AccumulateRange(0)
	require.Error(t, err)
	require.Equal(t, errkind.JournalTruncated, errkind.KindOf(err))
}

func TestJournal_SubscriberReceivesPositionOnAppend(t *testing.T) {
	j := journal.New(clock.RealClock{}, 7, 0)
	id, ch := j.RegisterSubscriber()
	defer j.CancelSubscriber(id)

	pos := j.AddDelta(journal.Entry{Paths: []journal.PathChange{{Path: "x", Status: journal.Created}}})

	select {
	case got := <-ch:
		require.Equal(t, pos, got)
	default:
		t.Fatal("expected a position on the subscriber channel")
	}
}

func TestJournal_CancelSubscriberClosesChannel(t *testing.T) {
	j := journal.New(clock.RealClock{}, 1, 0)
	id, ch := j.RegisterSubscriber()
	j.CancelSubscriber(id)

	_, open := <-ch
	require.False(t, open)
}

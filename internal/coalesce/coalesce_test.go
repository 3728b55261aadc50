/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

package coalesce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstCallerBecomesLeaderOthersFollow(t *testing.T) {
	g := NewGroup()
	ctx := context.Background()

	leader, follower := g.BeginOrigin(ctx, "k1")
	require.NotNil(t, leader)
	require.Nil(t, follower)

	_, follower2 := g.BeginOrigin(ctx, "k1")
	require.NotNil(t, follower2)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotOutcome Outcome
	go func() {
		defer wg.Done()
		o, err := follower2.Wait(ctx)
		require.NoError(t, err)
		gotOutcome = o
	}()

	leader.Publish(Outcome{Value: "origin-body"})
	wg.Wait()

	assert.Equal(t, "origin-body", gotOutcome.Value)
}

func TestNewRequestAfterPublishGetsFreshLeader(t *testing.T) {
	g := NewGroup()
	ctx := context.Background()

	leader1, _ := g.BeginOrigin(ctx, "k1")
	leader1.Publish(Outcome{Value: "first"})

	leader2, follower := g.BeginOrigin(ctx, "k1")
	assert.NotNil(t, leader2)
	assert.Nil(t, follower)
}

func TestFollowerWaitRespectsItsOwnContext(t *testing.T) {
	g := NewGroup()
	leader, _ := g.BeginOrigin(context.Background(), "k1")
	_ = leader

	_, follower := g.BeginOrigin(context.Background(), "k1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := follower.Wait(ctx)
	assert.Error(t, err)
}

func TestBeginBackgroundIsOneAtATime(t *testing.T) {
	g := NewGroup()

	start1, done1 := g.BeginBackground("k1")
	assert.True(t, start1)

	start2, _ := g.BeginBackground("k1")
	assert.False(t, start2)

	done1()

	start3, _ := g.BeginBackground("k1")
	assert.True(t, start3)
}

package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
	"github.com/openfroyo/graphpatch/pkg/stores"
)

// ExampleOpen demonstrates creating and migrating a store.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Put demonstrates the one-patch-per-target slot.
func ExampleSQLiteStore_Put() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	for _, planID := range []string{"plan-1", "plan-2"} {
		replaced, err := store.Put(ctx, &engine.PendingPatch{
			PlanID:    planID,
			TargetID:  "900000000000000000",
			Code:      "K7QP2M",
			CreatedAt: time.Now(),
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s replaced=%v\n", planID, replaced)
	}

	patch, _ := store.Get(ctx, "900000000000000000")
	fmt.Println("pending:", patch.PlanID)
	// Output:
	// plan-1 replaced=false
	// plan-2 replaced=true
	// pending: plan-2
}

// ExampleSQLiteStore_ListRuns demonstrates reading the apply history.
func ExampleSQLiteStore_ListRuns() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	_ = store.RecordApply(ctx, &engine.ApplyResult{
		RunID:        "run-001",
		PlanID:       "plan-1",
		TargetID:     "900000000000000000",
		Status:       engine.RunStatusSucceeded,
		Results:      []engine.ActionResult{{Success: true, Line: 1, HandlerID: "channel.rename", Changed: true}},
		SuccessCount: 1,
		StartedAt:    now,
		CompletedAt:  now,
	})

	runs, _ := store.ListRuns(ctx, stores.RunFilter{TargetID: "900000000000000000"})
	for _, run := range runs {
		fmt.Printf("%s %s %d/%d\n", run.RunID, run.Status, run.SuccessCount, run.SuccessCount+run.FailureCount)
	}
	// Output: run-001 succeeded 1/1
}

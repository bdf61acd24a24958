// Package realm implements the realm engine and the registry of realms.
//
// A realm owns its jobs, queues and tags behind a single mutex. Jobs are
// indexed by every queue they belong to and by every tag they carry. Pull
// hands out jobs in queue id order, and in insertion order within a queue,
// marking each one checked out; a checked out job is skipped until its
// queue's lease time has passed, after which it is handed out again.
//
// Only the queue and lease configuration of a realm is persisted, through a
// ConfigStore. Jobs and tags live in memory and are lost on restart.
//
//	reg := realm.NewRegistry(store)
//	rlm, err := reg.Get(ctx, "default")
//	if err != nil {
//		return err
//	}
//	_ = rlm.Add(ctx, "job-1", "0", []byte(`{"url":"https://example.com"}`), []string{"crawl"})
//	for _, l := range rlm.Pull(10) {
//		fmt.Println(l.JobID, l.QueueID)
//	}
package realm

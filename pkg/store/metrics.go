package store

// DiskUsage returns the best-effort on-disk size of the database in bytes,
// for the admin stats endpoint. Zero when the store is not open.
func DiskUsage() uint64 {
	if db == nil {
		return 0
	}
	return db.Metrics().DiskSpaceUsage()
}

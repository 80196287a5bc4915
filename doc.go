// Package rocksdb is an embedded log-structured-merge key-value store.
//
// The package centers on the open-and-recover pipeline: given a database
// directory that may be fresh, cleanly closed or crash-interrupted, Open
// reconstructs the durable committed prefix of the write history, restores
// the bookkeeping invariants the read/write/compaction machinery depends
// on, and leaves the directory in a well-defined state before serving
// traffic.
//
// On-disk formats (WAL framing, MANIFEST records, WriteBatch payloads,
// directory file names) follow RocksDB v10.7.5.
//
// Basic usage:
//
//	opts := rocksdb.DefaultOptions()
//	opts.CreateIfMissing = true
//	db, err := rocksdb.Open("/tmp/mydb", opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	_ = db.Put(nil, []byte("key"), []byte("value"))
package rocksdb

package rocksdb

// options_file.go persists the effective configuration to an OPTIONS file
// at the end of open. The format is the sectioned key=value text dump.
//
// Reference: RocksDB v10.7.5 options/options_helper.cc

import (
	"bufio"
	"fmt"
)

// optionsFileVersion is the dump format version.
const optionsFileVersion = 1

// optionsFilesToKeep bounds how many old OPTIONS dumps survive.
const optionsFilesToKeep = 2

// writeOptionsFile dumps the sanitized options to OPTIONS-<N> and prunes
// older dumps.
func (db *DB) writeOptionsFile() error {
	fileNum := db.versions.NewFileNumber()
	path := db.optionsFilePath(fileNum)

	file, err := db.opts.FS.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	fmt.Fprintln(w, "[Version]")
	fmt.Fprintf(w, "  options_file_version=%d\n", optionsFileVersion)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[DBOptions]")
	fmt.Fprintf(w, "  create_if_missing=%t\n", db.opts.CreateIfMissing)
	fmt.Fprintf(w, "  create_missing_column_families=%t\n", db.opts.CreateMissingColumnFamilies)
	fmt.Fprintf(w, "  error_if_exists=%t\n", db.opts.ErrorIfExists)
	fmt.Fprintf(w, "  paranoid_checks=%t\n", db.opts.ParanoidChecks)
	fmt.Fprintf(w, "  max_open_files=%d\n", db.opts.MaxOpenFiles)
	fmt.Fprintf(w, "  wal_dir=%s\n", db.opts.WALDir)
	fmt.Fprintf(w, "  wal_recovery_mode=%s\n", db.opts.WALRecoveryMode)
	fmt.Fprintf(w, "  avoid_flush_during_recovery=%t\n", db.opts.AvoidFlushDuringRecovery)
	fmt.Fprintf(w, "  allow_2pc=%t\n", db.opts.Allow2PC)
	fmt.Fprintf(w, "  recycle_log_file_num=%d\n", db.opts.RecycleLogFileNum)
	fmt.Fprintf(w, "  manual_wal_flush=%t\n", db.opts.ManualWALFlush)
	fmt.Fprintf(w, "  write_dbid_to_manifest=%t\n", db.opts.WriteDBIDToManifest)
	fmt.Fprintf(w, "  persist_stats_to_disk=%t\n", db.opts.PersistStatsToDisk)
	fmt.Fprintf(w, "  max_background_flushes=%d\n", db.opts.MaxFlushes)
	fmt.Fprintf(w, "  max_background_compactions=%d\n", db.opts.MaxCompactions)
	fmt.Fprintf(w, "  delayed_write_rate=%d\n", db.opts.DelayedWriteRate)
	fmt.Fprintf(w, "  bytes_per_sync=%d\n", db.opts.BytesPerSync)
	fmt.Fprintln(w)

	for _, cfd := range db.cfSet.all() {
		fmt.Fprintf(w, "[CFOptions %q]\n", cfd.name)
		fmt.Fprintf(w, "  write_buffer_size=%d\n", cfd.opts.WriteBufferSize)
		fmt.Fprintf(w, "  compression=%s\n", cfd.opts.Compression)
		fmt.Fprintf(w, "  block_size=%d\n", cfd.opts.BlockSize)
		fmt.Fprintf(w, "  checksum=%s\n", cfd.opts.ChecksumType)
		fmt.Fprintf(w, "  comparator=%s\n", comparatorNameOf(cfd.opts))
		fmt.Fprintln(w)
	}

	if err := w.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	db.pruneOptionsFiles(fileNum)
	return nil
}

// pruneOptionsFiles deletes all but the newest optionsFilesToKeep dumps.
func (db *DB) pruneOptionsFiles(current uint64) {
	names, err := db.opts.FS.ListDir(db.name)
	if err != nil {
		return
	}
	var numbers []uint64
	for _, name := range names {
		if n, ft, ok := parseFileName(name); ok && ft == FileTypeOptions {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) <= optionsFilesToKeep {
		return
	}
	// numbers arrive sorted lexically, which matches numerically for the
	// zero-padded names; delete from the oldest end.
	for _, n := range numbers[:len(numbers)-optionsFilesToKeep] {
		if n == current {
			continue
		}
		_ = db.opts.FS.Remove(db.optionsFilePath(n))
	}
}

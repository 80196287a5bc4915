package rocksdb

// options_validate.go rejects incompatible option combinations before any
// disk mutation.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (ValidateOptions)
//   - db/column_family.cc (ColumnFamilyData::ValidateOptions)

// validateOptions fails with InvalidArgument or NotSupported when the
// sanitized options cannot open a database.
func validateOptions(opts *immutableDBOptions, cfds []ColumnFamilyDescriptor) error {
	if len(opts.DbPaths) > MaxDbPaths {
		return NewNotSupported("More than four DB paths are not supported yet.")
	}
	if opts.AllowMmapReads && opts.UseDirectReads {
		return NewNotSupported("If memory mapped reads (allow_mmap_reads) are enabled then direct I/O reads (use_direct_reads) must be disabled.")
	}
	if opts.AllowMmapWrites && opts.UseDirectIOForFlushAndCompaction {
		return NewNotSupported("If memory mapped writes (allow_mmap_writes) are enabled then direct I/O writes (use_direct_io_for_flush_and_compaction) must be disabled.")
	}
	if opts.KeepLogFileNum <= 0 {
		return NewInvalidArgument("keep_log_file_num must be greater than 0")
	}
	if opts.UnorderedWrite && !opts.AllowConcurrentMemtableWrite {
		return NewInvalidArgument("unordered_write is incompatible with !allow_concurrent_memtable_write")
	}
	if opts.UnorderedWrite && opts.EnablePipelinedWrite {
		return NewInvalidArgument("unordered_write is incompatible with enable_pipelined_write")
	}
	if opts.AtomicFlush && opts.EnablePipelinedWrite {
		return NewInvalidArgument("atomic_flush is incompatible with enable_pipelined_write")
	}

	for i := range cfds {
		if err := validateColumnFamilyOptions(&cfds[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateColumnFamilyOptions applies the per-family checks, including
// those the table format would otherwise reject at build time.
func validateColumnFamilyOptions(cfd *ColumnFamilyDescriptor) error {
	o := &cfd.Options
	if o.WriteBufferSize <= 0 {
		return NewInvalidArgument("column family %q: write_buffer_size must be positive", cfd.Name)
	}
	if o.BlockSize <= 0 {
		return NewInvalidArgument("column family %q: block_size must be positive", cfd.Name)
	}
	switch o.Compression {
	case NoCompression, SnappyCompression, LZ4Compression, ZstdCompression:
	default:
		return NewInvalidArgument("column family %q: unknown compression type %d", cfd.Name, o.Compression)
	}
	switch o.ChecksumType {
	case ChecksumTypeNoChecksum, ChecksumTypeCRC32C, ChecksumTypeXXH3:
	default:
		return NewInvalidArgument("column family %q: unknown checksum type %d", cfd.Name, o.ChecksumType)
	}
	if (o.Comparator == nil) != (o.ComparatorName == "") && o.Comparator == nil {
		return NewInvalidArgument("column family %q: comparator name set without comparator", cfd.Name)
	}
	return nil
}

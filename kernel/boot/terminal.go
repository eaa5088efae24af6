package boot

// RegisterTerminalDriver installs the monolithic layer's terminal driver
// hooks. Identity is unimportant: the kernel core never calls these itself,
// it only hands them back out through GetTerminalWrite/GetTerminalRead to
// whichever collaborator (shell, VFS console device) asks.
func (k *Kernel) RegisterTerminalDriver(write TerminalWriteFunc, read TerminalReadFunc) {
	k.mu.Acquire()
	defer k.mu.Release()
	k.termWrite = write
	k.termRead = read
}

// GetTerminalWrite returns the last-registered terminal write hook, or nil
// if none has been registered.
func (k *Kernel) GetTerminalWrite() TerminalWriteFunc {
	k.mu.Acquire()
	defer k.mu.Release()
	return k.termWrite
}

// GetTerminalRead returns the last-registered terminal read hook, or nil if
// none has been registered.
func (k *Kernel) GetTerminalRead() TerminalReadFunc {
	k.mu.Acquire()
	defer k.mu.Release()
	return k.termRead
}

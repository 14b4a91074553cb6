package daemon

import "path/filepath"

// protectedDir holds daemon-owned state under home: the database, pid and
// addr files, worktree checkouts, and logs.
func protectedDir(home string) string { return filepath.Join(home, "protected") }

func pidPath(home string) string { return filepath.Join(protectedDir(home), "claudorc.pid") }

func addrPath(home string) string { return filepath.Join(protectedDir(home), "claudorc.addr") }

func logPath(home string) string { return filepath.Join(protectedDir(home), "daemon.log") }

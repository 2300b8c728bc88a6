package shellguard

import "strings"

// Level is how risky a command is judged to be.
type Level string

const (
	LevelSafe              Level = "safe"
	LevelNeedsConfirmation Level = "needs_confirmation"
	LevelDangerous         Level = "dangerous"
	LevelNeedsSudo         Level = "needs_sudo"
	LevelBlocked           Level = "blocked"
)

var blockedCommands = []string{
	"rm -rf /", "rm -rf /*", ":(){ :|:& };:", "mkfs", "dd if=/dev/zero",
	"dd if=/dev/random", "> /dev/sda", ">/dev/sda", "format c:",
	"rd /s /q c:", "del /f /s /q c:", "remove-item -recurse -force c:",
	"reg delete hklm", "remove-itemproperty -path hklm", "nc -l", "nmap",
}

var dangerousCommands = []string{
	"rm", "rmdir", "shred", "del", "rd", "erase", "chmod", "chown", "chgrp",
	"icacls", "takeown", "kill", "killall", "pkill", "taskkill", "stop-process",
	"git reset --hard", "git clean", "git push --force", "drop", "delete", "truncate",
}

var confirmCommands = []string{
	"cp", "mv", "mkdir", "touch", "ln", "copy", "move", "xcopy", "robocopy",
	"md", "ren", "git add", "git commit", "git push", "git pull", "git merge",
	"git checkout", "git reset", "git stash", "pip install", "pip3 install",
	"npm install", "cargo install", "go install", "nano", "vim", "nvim", "code", "notepad",
}

var safeCommands = []string{
	"ls", "find", "cat", "head", "tail", "wc", "du", "df", "pwd", "file", "stat",
	"tree", "which", "whereis", "grep", "rg", "ag", "sort", "uniq", "cut", "tr",
	"diff", "comm", "join", "paste", "column", "uname", "hostname", "uptime",
	"free", "ps", "top", "lscpu", "lsblk", "lsusb", "lspci", "lsof", "id",
	"whoami", "date", "cal", "ip", "ifconfig", "netstat", "ss", "ping",
	"nslookup", "dig", "host", "traceroute", "curl", "wget", "tar -tf",
	"unzip -l", "zipinfo", "dir", "type", "where", "attrib", "findstr",
	"systeminfo", "ver", "tasklist", "ipconfig", "getmac", "arp",
	"get-childitem", "get-content", "get-process", "get-service",
	"git status", "git log", "git diff", "git show", "git branch", "git remote",
	"git fetch", "git ls-files", "git blame", "go version", "go env",
	"node --version", "npm --version", "python --version", "python3 --version",
}

// hasWord reports whether cmd starts with word as a whole word.
func hasWord(cmd, word string) bool {
	if !strings.HasPrefix(cmd, word) {
		return false
	}
	rest := cmd[len(word):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

// Classify judges cmd by its leading words. Unknown commands need
// confirmation.
func Classify(cmd string) Level {
	c := strings.ToLower(strings.TrimSpace(cmd))
	for _, b := range blockedCommands {
		if strings.Contains(c, b) && (b != "rm -rf /" || blocksRoot(c)) {
			return LevelBlocked
		}
	}
	if hasWord(c, "sudo") || hasWord(c, "doas") {
		return LevelNeedsSudo
	}
	for _, d := range dangerousCommands {
		if hasWord(c, d) || strings.Contains(c, "| "+d+" ") || strings.HasSuffix(c, "| "+d) {
			return LevelDangerous
		}
	}
	for _, n := range confirmCommands {
		if hasWord(c, n) {
			return LevelNeedsConfirmation
		}
	}
	for _, s := range safeCommands {
		if hasWord(c, s) {
			return LevelSafe
		}
	}
	return LevelNeedsConfirmation
}

// blocksRoot is true when "rm -rf /" targets the root itself rather than a
// path below it.
func blocksRoot(c string) bool {
	i := strings.Index(c, "rm -rf /")
	rest := c[i+len("rm -rf /"):]
	return rest == "" || rest[0] == ' ' || rest[0] == '*'
}

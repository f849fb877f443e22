// Package scoring assigns calibrated threat scores to log entries using a
// hybrid rule-based and contextual scorer with adaptive severity thresholds.
package scoring

// PatternCategory groups related detection patterns under one threat type
// and weight. Every pattern match contributes the category weight to the
// accumulated score.
type PatternCategory struct {
	Name       string
	ThreatType string
	Weight     float64
	Patterns   []string
}

// DefaultPatterns returns the built-in detection lexicon.
//
// The slice order is the scoring priority order: when patterns from more
// than one category match the same message, the threat type comes from the
// highest-weighted match, and on equal weights the later category in this
// list wins. The order is fixed here so the tie-break never depends on map
// iteration.
func DefaultPatterns() []PatternCategory {
	return []PatternCategory{
		{
			Name:       "attack_tools",
			ThreatType: "attack_tool_usage",
			Weight:     0.7,
			Patterns: []string{
				"nmap", "sqlmap", "metasploit", "msfconsole",
				"nikto", "dirb", "gobuster", "hydra",
				"mimikatz", "psexec", "powershell -enc",
				"certutil -decode", "bitsadmin", "regsvr32",
			},
		},
		{
			Name:       "suspicious_commands",
			ThreatType: "reconnaissance",
			Weight:     0.4,
			Patterns: []string{
				"whoami", "net user", "net localgroup", "net group",
				"tasklist", "ps aux", "netstat", "arp -a",
				"route print", "cat /etc/passwd", "cat /etc/shadow",
				"sudo -l", "find / -perm", "chmod +x",
				"nc -", "netcat",
			},
		},
		{
			Name:       "malicious_patterns",
			ThreatType: "active_attack",
			Weight:     0.8,
			Patterns: []string{
				"reverse shell", "bind shell", "backdoor", "rootkit",
				"privilege escalation", "lateral movement", "persistence",
				"credential dump", "password crack", "hash dump",
				"buffer overflow", "code injection", "sql injection",
				"directory traversal", "file inclusion",
			},
		},
		{
			Name:       "network_attacks",
			ThreatType: "network_attack",
			Weight:     0.6,
			Patterns: []string{
				"port scan", "vulnerability scan", "brute force",
				"dos attack", "ddos", "man in the middle",
				"arp spoofing", "dns poisoning", "packet injection",
			},
		},
		{
			Name:       "system_compromise",
			ThreatType: "system_compromise",
			Weight:     0.9,
			Patterns: []string{
				"malware", "virus", "trojan", "ransomware",
				"keylogger", "spyware", "botnet",
				"c2 server", "command and control", "exfiltration",
			},
		},
		{
			Name:       "auth_failures",
			ThreatType: "authentication_attack",
			Weight:     0.5,
			Patterns: []string{
				"failed login", "authentication failed", "invalid credentials",
				"access denied", "unauthorized access", "permission denied",
			},
		},
	}
}

package task

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"wmsched/internal/trigger"
)

// Built-in task names.
const (
	BackupLocalDirectoryName = "BackupLocalDirectoryTask"
	BackupToRemoteName       = "BackupToRemoteTask"
	DeleteBackupsName        = "DeleteBackupsTask"
	TransferFileName         = "TransferFileTask"
	TransferDirectoryName    = "TransferDirectoryTask"
	ExportProductName        = "ExportProductTask"
	ProgramName              = "ProgramTask"
)

// Setting keys.
const (
	SettingBackupPath          = "backupPath"
	SettingConfig              = "Config"
	SettingLogs                = "Logs"
	SettingScreenshots         = "Screenshots"
	SettingSoftware            = "Software"
	SettingTimeToLiveDays      = "TimeToLiveDays"
	SettingTargetIP            = "TargetIpAddress"
	SettingTargetUser          = "TargetUserName"
	SettingTargetPassword      = "TargetPassword"
	SettingTargetPort          = "TargetPort"
	SettingProtocol            = "Protocol"
	SettingHTTPMethod          = "HttpMethod"
	SettingDebug               = "Debug"
	SettingTargetDirectoryPath = "TargetDirectoryPath"
	SettingTargetDirectoryName = "TargetDirectoryName"
	SettingTargetFileName      = "TargetFileName"
	SettingSourceDirectoryPath = "SourceDirectoryPath"
	SettingSourceDirectoryName = "SourceDirectoryName"
	SettingSourceFileName      = "SourceFileName"
	SettingUUID                = "uuid"
	SettingCommand             = "Command"
)

// legacyKeys maps older spellings to the canonical key. The canonical key wins when both are set.
var legacyKeys = map[string]string{
	"BackupPath": SettingBackupPath,
}

var remoteRequired = []string{SettingTargetIP, SettingTargetUser, SettingTargetPassword}

// kind describes one built-in task: which program it runs and how settings become arguments.
type kind struct {
	name     string
	program  string
	required []string
	triggers []TriggerSupport

	// command returns the program (empty: use kind.program) and its arguments.
	command func(s map[string]string) (string, []string, error)
	// fromSignal copies values delivered with the signal into settings.
	fromSignal func(s map[string]string, info trigger.SignalInfo)
}

var kinds = []*kind{
	{
		name:     BackupLocalDirectoryName,
		program:  "wm_backup",
		required: []string{SettingBackupPath},
		triggers: []TriggerSupport{cronOnly()},
		command: func(s map[string]string) (string, []string, error) {
			args := []string{"--backupPath=" + s[SettingBackupPath]}
			for _, f := range []struct{ key, flag string }{
				{SettingConfig, "--config"},
				{SettingLogs, "--logs"},
				{SettingScreenshots, "--screenshots"},
				{SettingSoftware, "--software"},
			} {
				if truthy(s[f.key]) {
					args = append(args, f.flag)
				}
			}
			return "", args, nil
		},
	},
	{
		name:     BackupToRemoteName,
		program:  "wm_backup_remote",
		required: append(append([]string(nil), remoteRequired...), SettingTargetDirectoryPath),
		triggers: []TriggerSupport{cronOnly()},
		command: func(s map[string]string) (string, []string, error) {
			args := remoteArgs(s)
			args = append(args, "--remotePath="+s[SettingTargetDirectoryPath])
			return "", append(args, remoteOptional(s)...), nil
		},
	},
	{
		name:     DeleteBackupsName,
		program:  "wm_delete_backups",
		required: []string{SettingBackupPath, SettingTimeToLiveDays},
		triggers: []TriggerSupport{cronOnly()},
		command: func(s map[string]string) (string, []string, error) {
			ttl := strings.TrimSpace(s[SettingTimeToLiveDays])
			if n, err := strconv.Atoi(ttl); err != nil || n < 0 {
				return "", nil, fmt.Errorf("%s must be a non-negative integer, got %q", SettingTimeToLiveDays, ttl)
			}
			return "", []string{s[SettingBackupPath], ttl}, nil
		},
	},
	{
		name:    TransferFileName,
		program: "wm_transfer",
		required: append(append([]string(nil), remoteRequired...),
			SettingSourceDirectoryPath, SettingSourceFileName, SettingTargetDirectoryPath, SettingTargetFileName),
		command: func(s map[string]string) (string, []string, error) {
			args := remoteArgs(s)
			args = append(args,
				"--sourcePath="+s[SettingSourceDirectoryPath],
				"--sourceFile="+s[SettingSourceFileName],
				"--remotePath="+s[SettingTargetDirectoryPath],
				"--remoteFile="+s[SettingTargetFileName],
			)
			return "", append(args, remoteOptional(s)...), nil
		},
	},
	{
		name:    TransferDirectoryName,
		program: "wm_transfer",
		required: append(append([]string(nil), remoteRequired...),
			SettingSourceDirectoryPath, SettingSourceDirectoryName, SettingTargetDirectoryPath, SettingTargetDirectoryName),
		triggers: []TriggerSupport{
			cronOnly(),
			onEvent(trigger.EventProductInstanceResultsStored),
			onEvent(trigger.EventProductInstanceVideoStored),
		},
		command: func(s map[string]string) (string, []string, error) {
			args := remoteArgs(s)
			args = append(args,
				"--sourcePath="+s[SettingSourceDirectoryPath],
				"--sourceDir="+s[SettingSourceDirectoryName],
				"--remotePath="+s[SettingTargetDirectoryPath],
				"--remoteDir="+s[SettingTargetDirectoryName],
			)
			return "", append(args, remoteOptional(s)...), nil
		},
		fromSignal: func(s map[string]string, info trigger.SignalInfo) {
			p := strings.TrimSpace(info.Meta(trigger.MetaPath))
			if p == "" {
				return
			}
			p = filepath.Clean(p)
			s[SettingSourceDirectoryPath] = filepath.Dir(p)
			s[SettingSourceDirectoryName] = filepath.Base(p)
		},
	},
	{
		name:     ExportProductName,
		program:  "wm_export_product",
		required: append([]string{SettingUUID}, append(append([]string(nil), remoteRequired...), SettingTargetDirectoryPath)...),
		triggers: []TriggerSupport{
			onEvent(trigger.EventProductAdded),
			onEvent(trigger.EventProductModified),
			cronOnly(),
		},
		command: func(s map[string]string) (string, []string, error) {
			args := []string{s[SettingUUID]}
			args = append(args, remoteArgs(s)...)
			args = append(args, "--remotePath="+s[SettingTargetDirectoryPath])
			return "", append(args, remoteOptional(s)...), nil
		},
		fromSignal: func(s map[string]string, info trigger.SignalInfo) {
			if id := strings.TrimSpace(info.Meta(trigger.MetaUUID)); id != "" {
				s[SettingUUID] = id
			}
		},
	},
	{
		name:     ProgramName,
		required: []string{SettingCommand},
		command: func(s map[string]string) (string, []string, error) {
			words, err := shellquote.Split(s[SettingCommand])
			if err != nil {
				return "", nil, fmt.Errorf("%s: %v", SettingCommand, err)
			}
			if len(words) == 0 {
				return "", nil, fmt.Errorf("%s is empty", SettingCommand)
			}
			return words[0], words[1:], nil
		},
	},
}

func remoteArgs(s map[string]string) []string {
	return []string{
		"--ip=" + s[SettingTargetIP],
		"--user=" + s[SettingTargetUser],
		"--password=" + s[SettingTargetPassword],
	}
}

func remoteOptional(s map[string]string) []string {
	var out []string
	if v := strings.TrimSpace(s[SettingTargetPort]); v != "" {
		out = append(out, "--port="+v)
	}
	if v := strings.TrimSpace(s[SettingProtocol]); v != "" {
		out = append(out, "--protocol="+v)
	}
	if v := strings.TrimSpace(s[SettingHTTPMethod]); v != "" {
		out = append(out, "--httpMethod="+v)
	}
	if truthy(s[SettingDebug]) {
		out = append(out, "--debug")
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

package sshactor

import "fmt"

// Processor inspects an exec command line and either handles it
// (returning output text and handled=true) or declines (handled=false),
// so the chain falls through to the next processor.
type Processor func(cmd string, files *FileStore) (output string, handled bool)

// LsProcessor is the built-in `ls` processor: lists the virtual file map.
func LsProcessor(cmd string, files *FileStore) (string, bool) {
	if cmd != "ls" {
		return "", false
	}
	return files.Ls(), true
}

// SSHTestServerProcessor is the built-in `ssh_test_server` processor: it
// responds with a fixed banner.
func SSHTestServerProcessor(cmd string, files *FileStore) (string, bool) {
	if cmd != "ssh_test_server" {
		return "", false
	}
	return "ssh_test_server ready\n", true
}

// unknownCommand is the fallback output when no processor in the chain
// handles a command.
func unknownCommand(cmd string) string {
	return fmt.Sprintf("Unknown command: %s", cmd)
}

// processorChain runs cmd through processors in order, returning the
// first handler's output, or unknownCommand(cmd) if none handle it.
func processorChain(processors []Processor, cmd string, files *FileStore) string {
	for _, p := range processors {
		if out, handled := p(cmd, files); handled {
			return out
		}
	}
	return unknownCommand(cmd)
}

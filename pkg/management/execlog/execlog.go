/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package execlog handles stdout and stderr pipes of started commands
// and logs them in JSON using the provided logger
package execlog

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
)

const (
	// PipeKey is the key for the pipe the log refers to
	PipeKey = "pipe"
	// StdOut is the PipeKey value for stdout
	StdOut = "stdout"
	// StdErr is the PipeKey value for stderr
	StdErr = "stderr"
)

// RunStreaming executes the command redirecting its stdout and stderr to the logger.
// This function waits for command to terminate end reports non-zero exit codes.
func RunStreaming(cmd *exec.Cmd, cmdName string) (err error) {
	if err := RunStreamingNoWait(cmd, cmdName); err != nil {
		return err
	}

	return cmd.Wait()
}

// RunStreamingNoWait executes the command redirecting its stdout and stderr to the logger.
// This function does not wait for command to terminate.
func RunStreamingNoWait(cmd *exec.Cmd, cmdName string) (err error) {
	logger := log.WithName(cmdName)

	stdoutWriter := &LogWriter{
		Logger: logger.WithValues(PipeKey, StdOut),
	}
	stderrWriter := &LogWriter{
		Logger: logger.WithValues(PipeKey, StdErr),
	}

	return RunStreamingNoWaitWithWriter(cmd, cmdName, stdoutWriter, stderrWriter)
}

// copyPipe is an internal function used to copy the content of a io.Reader
// into a io.Writer one line at a time.
func copyPipe(dst io.Writer, src io.ReadCloser, logger log.Logger) {
	defer func() {
		err := src.Close()
		if err != nil {
			logger.Error(err, "error closing src pipe")
		}
	}()

	scanner := bufio.NewScanner(src)

	for scanner.Scan() {
		line := scanner.Bytes()
		_, err := dst.Write(line)
		if err != nil {
			logger.Error(err, "can't write to dst writer", "line", line)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error(err, "can't scan from src pipe")
	}
}

// RunBuffering creates two dedicated pipes for stdout and stderr, run the command and logs its output after
// the command exited
func RunBuffering(cmd *exec.Cmd, cmdName string) (err error) {
	_, err = RunCapturing(cmd, cmdName)
	return err
}

// RunCapturing works like RunBuffering but additionally hands the
// captured stdout back to the caller, for commands whose output carries
// information beyond logging
func RunCapturing(cmd *exec.Cmd, cmdName string) (stdout string, err error) {
	logger := log.WithName(cmdName)

	var stdoutBuffer, stderrBuffer bytes.Buffer

	cmd.Stdout = &stdoutBuffer
	cmd.Stderr = &stderrBuffer
	err = cmd.Run()

	// Log stdout/stderr regardless of error status
	if s := stdoutBuffer.String(); len(s) > 0 {
		logger.WithValues(PipeKey, StdOut).Info(s)
	}

	if s := stderrBuffer.String(); len(s) > 0 {
		logger.WithValues(PipeKey, StdErr).Info(s)
	}

	return stdoutBuffer.String(), err
}

// RunStreamingNoWaitWithWriter executes the command redirecting its stdout and stderr to the corresponding writers.
// This function does not wait for command to terminate.
func RunStreamingNoWaitWithWriter(
	cmd *exec.Cmd,
	cmdName string,
	stdoutWriter io.Writer,
	stderrWriter io.Writer,
) (err error) {
	logger := log.WithName(cmdName)

	stdoutPipeRead, stdoutPipeWrite, err := os.Pipe()
	if err != nil {
		return err
	}

	stderrPipeRead, stderrPipeWrite, err := os.Pipe()
	if err != nil {
		return err
	}

	cmd.Stdout = stdoutPipeWrite
	cmd.Stderr = stderrPipeWrite
	err = cmd.Start()
	if err != nil {
		return err
	}

	err = stdoutPipeWrite.Close()
	if err != nil {
		return err
	}

	err = stderrPipeWrite.Close()
	if err != nil {
		return err
	}

	go copyPipe(stdoutWriter, stdoutPipeRead, logger)

	go copyPipe(stderrWriter, stderrPipeRead, logger)

	return nil
}

/*
Package cli holds the helpers shared by the covenant commands.

Output is written through a Formatter chosen by --output. Commands return
values implementing Table so the text and csv formats can lay them out as
columns, while json and yaml encode the value itself:

	f, err := cli.ParseOutputFormat(flagOutput)
	if err != nil {
		return err
	}
	return cli.NewFormatter(f).FormatTo(cmd.OutOrStdout(), result)

ExitCode maps errors to process exit codes. Commands wrap ErrViolation
when the outcome itself is a failure, such as a blocked action or a scan
that found conflicts.

SignalContext ties long-running commands to SIGINT and SIGTERM.
*/
package cli

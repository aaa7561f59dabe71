// Package logx is dailycast's logging facade over zerolog.
//
// Components receive a Logger and tag themselves with comp=<name>. The
// Service behind it can change level and sinks while the bot runs, which
// is how a logging config reload takes effect without a restart.
package logx

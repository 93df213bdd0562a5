package hybris

// libcStubNames are bionic exports guests import but never depend on for
// results. They resolve to logging no-ops.
var libcStubNames = []string{
	"setlocale",
	"newlocale",
	"freelocale",
	"uselocale",
	"localeconv",
	"__ctype_get_mb_cur_max",
	"mbrtowc",
	"wcrtomb",
	"mbstowcs",
	"wcstombs",
	"btowc",
	"wctob",
	"iswalpha",
	"iswspace",
	"iswdigit",
	"towlower",
	"towupper",
	"signal",
	"sigaction",
	"sigemptyset",
	"sigaddset",
	"sigfillset",
	"raise",
	"kill",
	"syscall",
	"prctl",
	"ioctl",
	"fcntl",
	"poll",
	"select",
	"eventfd",
	"epoll_create",
	"epoll_create1",
	"epoll_ctl",
	"epoll_wait",
	"socket",
	"connect",
	"bind",
	"listen",
	"accept",
	"send",
	"sendto",
	"recv",
	"recvfrom",
	"setsockopt",
	"getsockopt",
	"getsockname",
	"getaddrinfo",
	"freeaddrinfo",
	"gai_strerror",
	"inet_ntop",
	"inet_pton",
	"getifaddrs",
	"freeifaddrs",
	"unlink",
	"rmdir",
	"rename",
	"remove",
	"fsync",
	"ftruncate",
	"truncate",
	"statfs",
	"statvfs",
	"utime",
	"chmod",
	"fchmod",
	"realpath",
	"sscanf",
	"vsscanf",
	"fscanf",
	"ungetc",
	"setvbuf",
	"getc",
	"fgetc",
	"strftime",
	"mktime",
	"difftime",
	"uname",
	"getrlimit",
	"setrlimit",
	"getrusage",
	"sched_getaffinity",
	"sched_setaffinity",
	"setpriority",
	"getpriority",
	"dl_iterate_phdr",
	"__cxa_thread_atexit_impl",
	"__register_atfork",
	"android_set_abort_message",
}

package workerctx

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// processIdentity heads the diagnostic stream so a file can be matched to
// the process that wrote it.
type processIdentity struct {
	Pid         int32
	User        string
	Cmdline     []string
	ContainerId string
}

func currentProcess() *processIdentity {
	p := &processIdentity{Pid: int32(os.Getpid())}
	if pr, err := process.NewProcess(p.Pid); err == nil {
		var e error
		if p.User, e = pr.Username(); e != nil {
			log.Debug(e)
		}
		if p.Cmdline, e = pr.CmdlineSlice(); e != nil {
			log.Debug(e)
		}
	} else {
		log.Debug(err)
	}
	p.setContainerId()
	return p
}

func (p *processIdentity) setContainerId() {
	proc, err := procfs.NewProc(int(p.Pid))
	if err != nil {
		log.Debug(err)
		return
	}
	cgroups, err := proc.Cgroups()
	if err != nil {
		log.Debug(err)
		return
	}
	for _, g := range cgroups {
		for _, c := range g.Controllers {
			if c == "memory" && g.Path != "/" {
				p.ContainerId = filepath.Base(g.Path)
				return
			}
		}
	}
}

func (p *processIdentity) fields() log.Fields {
	f := log.Fields{"pid": p.Pid, "cmdline": "-"}
	if len(p.Cmdline) > 0 {
		f["cmdline"] = strings.Join(p.Cmdline, " ")
	}
	if p.User != "" {
		f["user"] = p.User
	}
	if p.ContainerId != "" {
		f["containerId"] = p.ContainerId
	}
	return f
}

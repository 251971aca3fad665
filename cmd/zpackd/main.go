package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulldump/goconfig"

	"github.com/zpackdb/zpack/bootstrap"
	"github.com/zpackdb/zpack/configuration"
)

var banner = `
 ___________          _    ______ ______
|__  /| ___ \        | |   |  _  \| ___ \
  / / | |_/ /_ _  ___| | __| | | || |_/ /
 / /  |  __/ _' |/ __| |/ /| | | || ___ \
/ /__ | | | (_| | (__|   < | |/ / | |_/ /
\____/\_|  \__,_|\___|_|\_\|___/  \____/
                         version ` + bootstrap.VERSION + `
`

func main() {

	c := configuration.Default()
	goconfig.Read(&c)

	if c.Version {
		fmt.Println("Version:", bootstrap.VERSION)
		return
	}

	if c.ShowBanner {
		fmt.Println(banner)
	}

	if c.ShowConfig {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "    ")
		e.Encode(c)
	}

	start, _ := bootstrap.Bootstrap(c)
	start()
}

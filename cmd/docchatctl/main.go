// Command docchatctl 是运维用的命令行工具：手动入库、查看命名空间、调试检索和签发测试令牌。
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

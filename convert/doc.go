// Package convert 提供任务管理器使用的格式转换器实现。
//
//   - CopyConverter: 把模型原样复制到输出路径，按字节数上报进度，
//     用于开发环境或输出格式与下载格式一致的场景
//   - ExecConverter: 调用外部转换程序（如 usdcat、Blender 脚本），
//     从其标准输出解析进度行
//
// 两者都实现 manager.Converter，转换失败统一返回 types.ErrConversion。
package convert
